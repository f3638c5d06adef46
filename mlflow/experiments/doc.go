/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package experiments is a small client for the MLflow experiment endpoints
// of a Databricks workspace.
//
// It covers what a tracing process needs before it can export spans: find
// out who the caller is, create the experiment (or reuse an existing one)
// and look experiments up by name.
//
//	client, err := experiments.New(ctx, "https://example.cloud.databricks.com",
//		experiments.WithToken(os.Getenv("DATABRICKS_TOKEN")))
//	if err != nil {
//		return err
//	}
//	id, err := client.Ensure(ctx, "agent-runs") // /Users/<me>/agent-runs
//
// Requests that fail with 429 or a 5xx status are retried according to the
// client's retry.Policy, honoring Retry-After.
package experiments
