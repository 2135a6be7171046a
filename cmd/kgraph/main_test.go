package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/kgraph/internal/config"
	"github.com/fyrsmithlabs/kgraph/internal/models"
	"github.com/fyrsmithlabs/kgraph/internal/search"
)

// useEmbeddedStore points every command at a persistent chromem directory
// with keyless (degraded) embeddings.
func useEmbeddedStore(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	prev := loadConfig
	t.Cleanup(func() { loadConfig = prev })
	loadConfig = func(string) (*config.Config, error) {
		cfg := config.Default()
		cfg.VectorStore.Provider = "chromem"
		cfg.VectorStore.Chromem.Path = dir
		cfg.Collections.VectorSize = 16
		cfg.Embeddings.Dimension = 16
		cfg.Embeddings.APIKey = ""
		cfg.Logging.Level = "error"
		return cfg, nil
	}
}

func run(t *testing.T, args ...string) []byte {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), out.String())
	return out.Bytes()
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string][]string{
		"entity":       {"create", "get", "list", "delete", "similar"},
		"relationship": {"create", "list", "delete"},
		"project":      {"create", "list", "delete"},
		"search":       nil,
		"observation":  {"add", "search"},
		"serve":        nil,
		"bootstrap":    nil,
		"version":      nil,
	}
	for name, subs := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
		for _, sub := range subs {
			c, _, err := rootCmd.Find([]string{name, sub})
			require.NoError(t, err)
			assert.Equal(t, sub, c.Name())
		}
	}
}

func TestCLI_EndToEnd(t *testing.T) {
	useEmbeddedStore(t)

	var cols struct{ Entities, Relationships, Projects string }
	require.NoError(t, json.Unmarshal(run(t, "bootstrap", "--json"), &cols))
	assert.Equal(t, "kg_entities", cols.Entities)

	var p models.Project
	require.NoError(t, json.Unmarshal(run(t, "project", "create", "--id", "billing", "--name", "Billing", "--json"), &p))
	assert.Equal(t, "billing", p.ID)

	var inv, db models.Entity
	require.NoError(t, json.Unmarshal(run(t, "entity", "create", "--project", "billing",
		"--name", "InvoiceService", "--type", "service", "--description", "Issues invoices", "--json"), &inv))
	require.NoError(t, json.Unmarshal(run(t, "entity", "create", "--project", "billing",
		"--name", "Ledger", "--type", "database", "--description", "Stores balances", "--json"), &db))

	var got models.Entity
	require.NoError(t, json.Unmarshal(run(t, "entity", "get", inv.ID, "--project", "billing", "--json"), &got))
	assert.Equal(t, "InvoiceService", got.Name)

	var rel models.Relationship
	require.NoError(t, json.Unmarshal(run(t, "relationship", "create", "--project", "billing",
		"--source", inv.ID, "--target", db.ID, "--type", "writes", "--json"), &rel))
	assert.Equal(t, 1.0, rel.Strength)

	var rels []models.Relationship
	require.NoError(t, json.Unmarshal(run(t, "relationship", "list", "--project", "billing", "--entity", db.ID, "--json"), &rels))
	require.Len(t, rels, 1)
	assert.Equal(t, rel.ID, rels[0].ID)

	var results []search.Result
	require.NoError(t, json.Unmarshal(run(t, "search", "invoices", "--project", "billing",
		"--vector-weight", "0", "--keyword-weight", "1", "--min-score", "0.5", "--json"), &results))
	require.Len(t, results, 1)
	assert.Equal(t, inv.ID, results[0].Entity.ID)

	var added struct{ ID string }
	require.NoError(t, json.Unmarshal(run(t, "observation", "add", inv.ID, "retries", "failed", "payments",
		"--project", "billing", "--added-by", "alice", "--json"), &added))
	assert.NotEmpty(t, added.ID)

	var hits []models.ObservationHit
	require.NoError(t, json.Unmarshal(run(t, "observation", "search", "failed payments",
		"--project", "billing", "--added-by", "", "--json"), &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, added.ID, hits[0].ID)
	assert.Equal(t, inv.ID, hits[0].EntityID)
	assert.Equal(t, "alice", hits[0].AddedBy)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)

	var stats []models.ProjectStats
	require.NoError(t, json.Unmarshal(run(t, "project", "list", "--json"), &stats))
	require.NotEmpty(t, stats)
	assert.Equal(t, "billing", stats[0].Project.ID)
	assert.Equal(t, 5, stats[0].ActivityScore)

	var del struct {
		ID      string `json:"id"`
		Deleted bool   `json:"deleted"`
	}
	require.NoError(t, json.Unmarshal(run(t, "entity", "delete", inv.ID, "--project", "billing", "--json"), &del))
	assert.True(t, del.Deleted)

	rels = nil
	require.NoError(t, json.Unmarshal(run(t, "relationship", "list", "--project", "billing", "--entity", db.ID, "--json"), &rels))
	assert.Empty(t, rels, "relationships of a deleted entity are removed")

	require.NoError(t, json.Unmarshal(run(t, "project", "delete", "billing", "--json"), &del))
	assert.True(t, del.Deleted)
}

func TestProjectDelete_DefaultRefused(t *testing.T) {
	useEmbeddedStore(t)
	rootCmd.SetArgs([]string{"project", "delete", models.DefaultProjectID})
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	assert.Error(t, rootCmd.ExecuteContext(context.Background()))
}

func TestVersionCmd(t *testing.T) {
	out := run(t, "version")
	assert.Contains(t, string(out), "Version:    dev")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"string shorter than max", "hello", 10, "hello"},
		{"string equal to max", "hello", 5, "hello"},
		{"string longer than max", "hello world", 8, "hello..."},
		{"very short max", "hello", 3, "..."},
		{"empty string", "", 10, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.input, tt.maxLen))
		})
	}
}

func TestParseMetadata(t *testing.T) {
	assert.Nil(t, parseMetadata(nil))
	assert.Equal(t, map[string]any{"owner": "ops"}, parseMetadata(map[string]string{"owner": "ops"}))
}
