// Package sheets fetches tabular snapshots from a spreadsheet values API.
//
// It accepts full sheet URLs, share links, and bare spreadsheet ids, applies
// client-side rate limiting, and retries rate-limit and availability errors
// with exponential backoff. Permission failures are surfaced distinctly so
// the operator hint (share the sheet with the service account) reaches the
// job's last_result.
package sheets
