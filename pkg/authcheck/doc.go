// Package authcheck periodically re-verifies the SSO identities that grant
// organization memberships.
//
// The Sweeper runs on a fixed interval (Scheduler). Each sweep selects the
// identities last verified at or before now minus the interval, advances
// their last_verified to now in a single statement, and enqueues one
// check_auth_identity task per identity that expires after the interval.
//
// The Reconciler handles those tasks. It asks the provider's validator
// whether the identity is still valid and writes the answer to the
// membership:
//
//	valid     sso:linked=true   sso:invalid=false
//	invalid   sso:linked=false  sso:invalid=true
//
// Validator errors and panics count as invalid. Identities whose user has
// left the organization are deleted. The identity's last_verified is stamped
// again once the membership is updated.
//
// Wiring:
//
//	mux := tasks.NewMux()
//	authcheck.NewReconciler(ssoStorage, members, registry).Register(mux)
//	queue := tasks.NewMemoryQueue(ctx, mux, workers, timeout)
//
//	sweeper := authcheck.NewSweeper(ssoStorage, queue, time.Hour)
//	scheduler, _ := authcheck.NewScheduler(sweeper, logger)
//	scheduler.Start()
package authcheck
