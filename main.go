// Command bios-notifier tracks motherboard firmware releases.
//
// A run has three stages executed in order under a run lock:
//   - discovery: parses the vendor catalog, onboards unknown models, and resolves their release pages.
//   - check: fetches each model's release page (plain HTTP, or a headless browser for alternate hosts)
//     and advances the held release when a strictly newer one is published.
//   - notify: emails verified subscribers whose last-notified release is older than the held one,
//     donators first and under a per-run cap, and removes unverified signups past the grace window.
//
// Each stage publishes a summary to the configured report sinks (log, webhook, Pub/Sub). With
// --origin the JSON model snapshot is pushed to GCS or a local mirror directory.
//
// Quick checklist:
//   - Configure env vars with the BIOSNOTIFIER_ prefix, e.g. BIOSNOTIFIER_DB_DSN,
//     BIOSNOTIFIER_EMAIL_HOST, BIOSNOTIFIER_REDIS_ADDR, BIOSNOTIFIER_REPORT_WEBHOOK_URL.
//   - Without a DSN the catalog lives in memory, seeded from snapshot.path.
//   - Run locally: bios-notifier run --config config.yaml, or bios-notifier serve for the HTTP trigger.
package main

import (
	"github.com/JakeFAU/bios-notifier/cmd"
)

func main() {
	cmd.Execute()
}
