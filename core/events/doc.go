// Package events defines the plan events emitted on the event log.
//
// Available event kinds:
//   - KindStatus: a plan changed lifecycle state
//   - KindProgress: a solve finished a phase or a round
//   - KindAudit: audit records were appended
//   - KindOverride: an override was recorded
//   - KindRepair: a repair plan was derived from the plan
package events
