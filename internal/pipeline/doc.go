// Package pipeline provides the business boundary for Redress's alert
// resolution system. It defines the Orchestrator (case state machine,
// dedup, persistence discipline), the Triage/Solution/Action stages,
// the CaseStore interface, and the domain models.
package pipeline
