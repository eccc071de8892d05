package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/commute-matcher/internal/memstore"
	"github.com/jonathan/commute-matcher/internal/server"
	"github.com/jonathan/commute-matcher/internal/types"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "JWT_SECRET", "GOOGLE_MAPS_API_KEY",
		"MATCH_DATABASE_URL", "MATCH_AUTH_JWT_SECRET", "MATCH_PROVIDER_API_KEY", "MATCH_PROVIDER_BASE_URL",
	} {
		t.Setenv(key, "")
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeEntities(t *testing.T) string {
	t.Helper()
	ds := memstore.Dataset{
		Candidates: []types.Entity{
			{ID: "cand-1", Postcode: "SW1A 1AA", Role: "Dental Nurse"},
			{ID: "cand-2", Postcode: "EC1A 1BB", Role: "Receptionist"},
			{ID: "cand-3", Postcode: "N1 9GU", Role: "Dentist"},
		},
		Clients: []types.Entity{
			{ID: "client-near", Postcode: "W1A 0AX", Role: "Dental Nurse"},
			{ID: "client-far", Postcode: "CB2 1TN", Role: "Dentist"},
		},
	}
	data, err := json.Marshal(ds)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "entities.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// fakeProvider answers every element OK: 10 minutes to the first
// destination and 100 minutes to any other.
func fakeProvider(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		origins := strings.Split(r.URL.Query().Get("origins"), "|")
		destinations := strings.Split(r.URL.Query().Get("destinations"), "|")

		var rows []string
		for range origins {
			var elements []string
			for d := range destinations {
				seconds := 600
				if d > 0 {
					seconds = 6000
				}
				elements = append(elements, fmt.Sprintf(
					`{"status":"OK","duration":{"value":%d},"distance":{"value":5000}}`, seconds))
			}
			rows = append(rows, `{"elements":[`+strings.Join(elements, ",")+`]}`)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"OK","rows":[%s]}`, strings.Join(rows, ","))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestGenerate_Offline(t *testing.T) {
	clearEnv(t)
	srv, calls := fakeProvider(t)
	t.Setenv("MATCH_PROVIDER_BASE_URL", srv.URL)
	t.Setenv("MATCH_PROVIDER_API_KEY", "test-key")

	out, err := execute(t, "generate", "--tenant", "tenant-a", "--mode", "full", "--entities", writeEntities(t))
	require.NoError(t, err, out)

	assert.Contains(t, out, "JOB STATUS")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "6/6 pairs")
	assert.Contains(t, out, "Total matches: 3")
	assert.Contains(t, out, "client-near")
	assert.NotContains(t, out, "client-far")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerate_DryRun(t *testing.T) {
	clearEnv(t)

	out, err := execute(t, "generate", "--tenant", "tenant-a", "--entities", writeEntities(t), "--dry-run")
	require.NoError(t, err, out)

	assert.Contains(t, out, "BATCH PLAN")
	assert.Contains(t, out, "standard")
	assert.Contains(t, out, "Pairs:      6")
	assert.Contains(t, out, "Batches:    1")
}

func TestGenerate_DryRunConservative(t *testing.T) {
	clearEnv(t)
	t.Setenv("MATCH_BATCHING_POLICY", "conservative")

	out, err := execute(t, "generate", "--tenant", "tenant-a", "--entities", writeEntities(t), "--dry-run")
	require.NoError(t, err, out)

	assert.Contains(t, out, "conservative")
	assert.Contains(t, out, "Batches:    6")
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    func(t *testing.T) []string
		wantErr string
	}{
		{
			name:    "missing tenant",
			args:    func(*testing.T) []string { return []string{"generate"} },
			wantErr: "tenant",
		},
		{
			name: "invalid mode",
			args: func(t *testing.T) []string {
				return []string{"generate", "--tenant", "t", "--mode", "partial", "--entities", writeEntities(t)}
			},
			wantErr: "invalid --mode",
		},
		{
			name: "no api key",
			args: func(t *testing.T) []string {
				return []string{"generate", "--tenant", "t", "--entities", writeEntities(t)}
			},
			wantErr: "api_key",
		},
		{
			name:    "no database",
			args:    func(*testing.T) []string { return []string{"generate", "--tenant", "t"} },
			wantErr: "database_url",
		},
		{
			name: "missing entities file",
			args: func(t *testing.T) []string {
				return []string{"generate", "--tenant", "t", "--entities", filepath.Join(t.TempDir(), "nope.json")}
			},
			wantErr: "nope.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := execute(t, tt.args(t)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseCommands_RequireDatabaseURL(t *testing.T) {
	for _, args := range [][]string{
		{"status", "--tenant", "t"},
		{"migrate"},
		{"ban", "--tenant", "t", "--candidate", "c", "--client", "k"},
	} {
		t.Run(args[0], func(t *testing.T) {
			clearEnv(t)
			_, err := execute(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "database_url")
		})
	}
}

func TestServe_RequiresSettings(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/none")

	_, err := execute(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestMigrate_Print(t *testing.T) {
	clearEnv(t)

	out, err := execute(t, "migrate", "--print")
	require.NoError(t, err)
	assert.Contains(t, out, "CREATE TABLE IF NOT EXISTS job_states")
}

func TestToken(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "cli-secret")

	out, err := execute(t, "token", "--tenant", "tenant-a", "--ttl", "1h")
	require.NoError(t, err)

	claims, err := server.NewTokenService("cli-secret", time.Hour).ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", claims.TenantID)
}

func TestConfigFile_Invalid(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batching:\n  policy: greedy\n"), 0o600))

	_, err := execute(t, "--config", path, "migrate", "--print")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Policy")
}
