package authcheck

import (
	"context"
	"fmt"

	"github.com/platinummonkey/authcheck/pkg/tasks"
)

// TaskCheckAuthIdentity is the task that re-verifies one auth identity
const TaskCheckAuthIdentity = "check_auth_identity"

// CheckAuthIdentityPayload is the payload of a check_auth_identity task
type CheckAuthIdentityPayload struct {
	AuthIdentityID int64 `json:"auth_identity_id"`
}

// Handle runs a check_auth_identity task
func (r *Reconciler) Handle(ctx context.Context, task *tasks.Task) error {
	var payload CheckAuthIdentityPayload
	if err := task.Decode(&payload); err != nil {
		return err
	}
	if payload.AuthIdentityID <= 0 {
		return fmt.Errorf("invalid auth_identity_id %d", payload.AuthIdentityID)
	}

	_, err := r.Reconcile(ctx, payload.AuthIdentityID)
	return err
}

// Register installs the reconciler as the check_auth_identity handler
func (r *Reconciler) Register(mux *tasks.Mux) {
	mux.Handle(TaskCheckAuthIdentity, r.Handle)
}
