// Package http exposes the program schedule over a JSON API.
//
// Every schedule route is scoped by organization and program under
// /orgs/{orgID}/programs/{programID}/schedule:
//   - GET /: the read model. ?include_cancelled=true adds cancelled occurrences.
//   - GET /timeline: occurrences from the rule engine, or synthesized from the
//     legacy schedule blocks for programs that have not migrated.
//   - GET /calendar.ics: scheduled occurrences as an iCalendar feed.
//   - POST /rules: save a rule and reconcile its occurrences. The body is a
//     rule definition and may carry "id" and "expected_rule_hash".
//   - POST /rules/preview: expand a rule without saving it.
//   - DELETE /rules/{ruleID}: delete a rule and cancel what it generated.
//   - POST /occurrences, PUT /occurrences/{occurrenceID}: add a manual
//     occurrence or edit any occurrence. Editing a rule occurrence creates an
//     override.
//   - POST /occurrences/{occurrenceID}/skip and POST /restore with
//     {"rule_id","source_key"}.
//
// Mutations answer {"id","read_model":{"rules","occurrences","exceptions"}}.
// Failures answer {"message","errors"} with 400, 404, 409, 422 or 503.
package http
