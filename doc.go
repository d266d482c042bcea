// Command enricher fills in product details for company records that have a website but no product data.
//
// Architecture overview:
//   - Dispatcher: internal/dispatcher selects up to run.batch_size pending rows with id >= cursor, processes the
//     batch concurrently and advances the cursor past the highest id it saw. The run ends when a selection is empty.
//   - Pipeline: internal/pipeline validates the website, loads it in a fresh headless Chrome (or a static colly
//     session when fetcher.engine=static), extracts visible text, asks the model to translate it into English and
//     then to return four JSON fields. Values are normalized into plain text before the row is updated.
//   - Terminal failures: an unreachable site, unreadable content or an unusable model answer write a sentinel into
//     product_name so the row is not selected again. Invalid URLs and unexpected errors leave the row untouched.
//   - Side outputs: unparseable model answers can be archived (local or GCS) and every terminal write can be
//     announced on Pub/Sub. Neither affects the outcome of a record.
//   - Configuration & plumbing: Viper reads an optional config file plus ENRICHER_* variables (OPENAI_API_KEY and
//     PRISMA_URL are honored); a .env file is loaded first. zap provides structured logging, Prometheus metrics and
//     health probes are served by internal/server when metrics.enabled is set.
//
// Operational notes:
//   - Stopping: the first SIGINT or SIGTERM lets the current batch finish and prevents new batches. A second signal
//     terminates the process immediately.
//   - Rows left pending by a run (invalid URLs, unclassified failures) are selected again by the next run.
//
// Quick checklist:
//   - export PRISMA_URL=postgres://... OPENAI_API_KEY=sk-...
//   - enricher migrate  (optional, creates the companies table and pending index)
//   - enricher run --start-id 0 --batch-size 7
package main
