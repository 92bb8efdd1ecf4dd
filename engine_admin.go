package portalauth

import (
	"context"
	"strings"

	"github.com/MrEthical07/portalauth/authz"
)

// ProvisionAccount creates an account of any role on behalf of an
// administrator. Provisioned accounts are verified and may carry a curator
// group.
func (e *Engine) ProvisionAccount(ctx context.Context, admin Actor, req RegisterRequest) (UserAccount, error) {
	if err := e.ready(); err != nil {
		return UserAccount{}, err
	}
	adminID := formatUserID(admin.UserID)
	if !authz.HasRole(admin, authz.RoleAdministrator) {
		e.emitAudit(ctx, auditEventAdminActionForbidden, false, adminID, strings.TrimSpace(req.Username), ErrForbidden, adminMetadata("provision"))
		return UserAccount{}, ErrForbidden
	}

	acc, err := e.createAccount(ctx, req, true)
	if err != nil {
		e.emitAudit(ctx, registerFailureEvent(err), false, adminID, strings.TrimSpace(req.Username), err, adminMetadata("provision"))
		return UserAccount{}, err
	}

	e.metricInc(MetricAccountProvisioned)
	e.emitAudit(ctx, auditEventAccountProvisioned, true, adminID, acc.Username, nil, func() map[string]string {
		return map[string]string{
			"account_id": formatUserID(acc.ID),
			"role":       string(acc.Role),
		}
	})
	return acc, nil
}

// AssignCurator makes teacherID the curator of group, replacing any group
// they curated before. An empty group clears the assignment.
func (e *Engine) AssignCurator(ctx context.Context, admin Actor, teacherID int64, group string) error {
	if err := e.ready(); err != nil {
		return err
	}
	adminID := formatUserID(admin.UserID)
	if !authz.HasRole(admin, authz.RoleAdministrator) {
		e.emitAudit(ctx, auditEventAdminActionForbidden, false, adminID, "", ErrForbidden, adminMetadata("assign_curator"))
		return ErrForbidden
	}

	acc, err := e.directory.FindByID(ctx, teacherID)
	if err != nil {
		return lookupErr(err)
	}
	if acc.Role != authz.RoleTeacher {
		return ErrNotTeacher
	}

	group = strings.TrimSpace(group)
	if err := e.directory.SetCuratorGroup(ctx, teacherID, group); err != nil {
		return lookupErr(err)
	}

	e.metricInc(MetricCuratorAssigned)
	e.emitAudit(ctx, auditEventCuratorAssigned, true, adminID, "", nil, func() map[string]string {
		return map[string]string{
			"teacher_id": formatUserID(teacherID),
			"group":      group,
		}
	})
	return nil
}

func adminMetadata(action string) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"action": action}
	}
}
