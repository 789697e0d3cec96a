package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeSonar serves a fixed project list and records mutating calls.
type fakeSonar struct {
	mu       sync.Mutex
	total    int
	posts    []string
	authUser string
}

func (f *fakeSonar) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, _, _ := r.BasicAuth()
	f.mu.Lock()
	f.authUser = user
	f.mu.Unlock()

	switch r.URL.Path {
	case "/api/projects/search":
		page, _ := strconv.Atoi(r.URL.Query().Get("p"))
		size, _ := strconv.Atoi(r.URL.Query().Get("ps"))
		comps := []map[string]string{}
		for i := (page - 1) * size; i < page*size && i < f.total; i++ {
			comps = append(comps, map[string]string{"key": fmt.Sprintf("k%d", i), "name": fmt.Sprintf("P%d", i)})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"paging":     map[string]int{"pageIndex": page, "pageSize": size, "total": f.total},
			"components": comps,
		})
	case "/api/projects/delete", "/api/projects/bulk_delete":
		_ = r.ParseForm()
		f.mu.Lock()
		f.posts = append(f.posts, r.URL.Path+"?"+r.Form.Encode())
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeSonar) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.posts...)
}

type result struct {
	stdout   string
	stderr   string
	err      error
	exitCode int
}

// isolate points HOME, the working directory and SQ_* variables at a scratch area.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("SQ_USER_TOKEN", "")
	t.Setenv("SQ_URL", "")
	t.Chdir(dir)
	return dir
}

func execute(t *testing.T, args ...string) result {
	t.Helper()

	oldExit := exitFunc
	defer func() { exitFunc = oldExit }()

	res := result{exitCode: -1}
	exitFunc = func(code int) { res.exitCode = code }

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	res.err = cmd.Execute()
	res.stdout = stdout.String()
	res.stderr = stderr.String()
	return res
}

func TestMissingCredentials(t *testing.T) {
	dir := isolate(t)

	res := execute(t, "--config", filepath.Join(dir, "none.yaml"), "--action", "search")

	if res.exitCode != 1 {
		t.Errorf("exit code = %d, want 1", res.exitCode)
	}
	if !strings.Contains(res.stdout, "Error: user_token and sonarqube_url are required parameters.") {
		t.Errorf("stdout = %q", res.stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, "output.json")); err == nil {
		t.Error("no action should run without credentials")
	}
}

func TestActionFlagRequired(t *testing.T) {
	isolate(t)

	res := execute(t, "--user_token", "t", "--sonarqube_url", "http://x")
	if res.err == nil || !strings.Contains(res.err.Error(), "action") {
		t.Errorf("err = %v, want required flag error", res.err)
	}
}

func TestSearchWithFlags(t *testing.T) {
	dir := isolate(t)
	sonar := &fakeSonar{total: 3}
	srv := httptest.NewServer(sonar)
	defer srv.Close()

	res := execute(t,
		"--config", filepath.Join(dir, "none.yaml"),
		"--user_token", "squ_flag",
		"--sonarqube_url", srv.URL+"/",
		"--action", "search",
		"--q", "P",
	)

	if res.err != nil || res.exitCode != -1 {
		t.Fatalf("err = %v, exit = %d, stderr = %s", res.err, res.exitCode, res.stderr)
	}
	if res.stdout != "P0:k0\nP1:k1\nP2:k2\n" {
		t.Errorf("stdout = %q", res.stdout)
	}

	data, err := os.ReadFile(filepath.Join(dir, "output.json"))
	if err != nil {
		t.Fatalf("output.json not written: %v", err)
	}
	var written []map[string]any
	if err := json.Unmarshal(data, &written); err != nil || len(written) != 3 {
		t.Errorf("output.json = %s (err %v)", data, err)
	}
	if sonar.authUser != "squ_flag" {
		t.Errorf("token sent = %q", sonar.authUser)
	}
}

func TestCredentialsFromEnvAndConfig(t *testing.T) {
	dir := isolate(t)
	sonar := &fakeSonar{total: 1}
	srv := httptest.NewServer(sonar)
	defer srv.Close()

	configPath := filepath.Join(dir, "config.yaml")
	content := "sonarqube:\n  user_token: from-file\n  sonarqube_url: " + srv.URL + "\noutput:\n  file: results.json\n"
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	res := execute(t, "--config", configPath, "--action", "search")
	if res.err != nil {
		t.Fatal(res.err)
	}
	if sonar.authUser != "from-file" {
		t.Errorf("token = %q, want value from config file", sonar.authUser)
	}
	if _, err := os.Stat(filepath.Join(dir, "results.json")); err != nil {
		t.Errorf("output.file from config not honored: %v", err)
	}

	t.Setenv("SQ_USER_TOKEN", "from-env")
	if res := execute(t, "--config", configPath, "--action", "search"); res.err != nil {
		t.Fatal(res.err)
	}
	if sonar.authUser != "from-env" {
		t.Errorf("token = %q, want env to override config file", sonar.authUser)
	}
}

func TestDotEnvFile(t *testing.T) {
	dir := isolate(t)
	sonar := &fakeSonar{total: 1}
	srv := httptest.NewServer(sonar)
	defer srv.Close()

	// isolate left SQ_* set to empty strings; dotenv only fills
	// variables that are absent, so unset them for this test.
	for _, k := range []string{"SQ_USER_TOKEN", "SQ_URL"} {
		if err := os.Unsetenv(k); err != nil {
			t.Fatal(err)
		}
	}
	t.Cleanup(func() {
		_ = os.Unsetenv("SQ_USER_TOKEN")
		_ = os.Unsetenv("SQ_URL")
	})

	envPath := filepath.Join(dir, "custom.env")
	if err := os.WriteFile(envPath, []byte("SQ_USER_TOKEN=from-dotenv\nSQ_URL="+srv.URL+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	res := execute(t, "--config", filepath.Join(dir, "none.yaml"), "--env-file", envPath, "--action", "search")
	if res.err != nil || res.exitCode != -1 {
		t.Fatalf("err = %v, exit = %d, stdout = %s", res.err, res.exitCode, res.stdout)
	}
	if sonar.authUser != "from-dotenv" {
		t.Errorf("token = %q", sonar.authUser)
	}
}

func TestDeleteDryRunIssuesNoPost(t *testing.T) {
	dir := isolate(t)
	sonar := &fakeSonar{total: 1}
	srv := httptest.NewServer(sonar)
	defer srv.Close()

	res := execute(t,
		"--config", filepath.Join(dir, "none.yaml"),
		"--user_token", "t", "--sonarqube_url", srv.URL,
		"--action", "delete,bulk_delete", "--project", "k0", "--projects", "k0", "--dryRun",
	)
	if res.err != nil {
		t.Fatal(res.err)
	}
	if posts := sonar.recorded(); len(posts) != 0 {
		t.Errorf("dry run sent %v", posts)
	}
}

func TestLiveDeletes(t *testing.T) {
	dir := isolate(t)
	sonar := &fakeSonar{total: 2}
	srv := httptest.NewServer(sonar)
	defer srv.Close()

	res := execute(t,
		"--config", filepath.Join(dir, "none.yaml"),
		"--user_token", "t", "--sonarqube_url", srv.URL,
		"--action", "delete,bogus,bulk_delete", "--project", "k9", "--q", "P",
	)
	if res.err != nil {
		t.Fatal(res.err)
	}

	want := "Project 'k9' deleted successfully.\nUnknown action: bogus\nProjects deleted successfully.\n"
	if res.stdout != want {
		t.Errorf("stdout = %q, want %q", res.stdout, want)
	}

	posts := sonar.recorded()
	if len(posts) != 2 {
		t.Fatalf("posts = %v", posts)
	}
	if posts[0] != "/api/projects/delete?project=k9" {
		t.Errorf("delete = %q", posts[0])
	}
	if posts[1] != "/api/projects/bulk_delete?projects=k0%2Ck1" {
		t.Errorf("bulk delete = %q", posts[1])
	}
}

func TestArchiveWithoutBucketWarns(t *testing.T) {
	dir := isolate(t)
	sonar := &fakeSonar{total: 1}
	srv := httptest.NewServer(sonar)
	defer srv.Close()

	res := execute(t,
		"--config", filepath.Join(dir, "none.yaml"),
		"--user_token", "t", "--sonarqube_url", srv.URL,
		"--action", "search", "--archive",
	)
	if res.err != nil {
		t.Fatal(res.err)
	}
	if !strings.Contains(res.stderr, "Warning: --archive ignored") {
		t.Errorf("stderr = %q", res.stderr)
	}
	if res.stdout != "P0:k0\n" {
		t.Errorf("stdout = %q", res.stdout)
	}
}

func TestInvalidConfigIsAnError(t *testing.T) {
	dir := isolate(t)
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("output:\n  format: xml\n"), 0600); err != nil {
		t.Fatal(err)
	}

	res := execute(t, "--config", configPath, "--action", "search")
	if res.err == nil || !strings.Contains(res.err.Error(), "output.format") {
		t.Errorf("err = %v", res.err)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	dir := isolate(t)
	configPath := filepath.Join(dir, ".sqpurge", "config.yaml")

	res := execute(t, "--config", configPath, "config", "init")
	if res.err != nil {
		t.Fatalf("config init: %v", res.err)
	}
	for _, phrase := range []string{"Welcome to sqpurge!", configPath, "sonarqube.user_token", "sqpurge doctor"} {
		if !strings.Contains(res.stdout, phrase) {
			t.Errorf("welcome message missing %q", phrase)
		}
	}

	if res := execute(t, "--config", configPath, "config", "init"); res.err == nil {
		t.Error("second config init should refuse to overwrite")
	}

	res = execute(t, "--config", configPath, "--user_token", "squ_secretvalue9876", "config", "show")
	if res.err != nil {
		t.Fatalf("config show: %v", res.err)
	}
	if strings.Contains(res.stdout, "squ_secretvalue9876") {
		t.Error("config show leaked the token")
	}
	if !strings.Contains(res.stdout, "9876") || !strings.Contains(res.stdout, "sonarqube.example.com") {
		t.Errorf("config show output = %s", res.stdout)
	}
}

func TestDoctor(t *testing.T) {
	dir := isolate(t)
	sonar := &fakeSonar{total: 1500}
	srv := httptest.NewServer(sonar)
	defer srv.Close()

	res := execute(t, "--config", filepath.Join(dir, "none.yaml"), "--user_token", "squ_tok", "--sonarqube_url", srv.URL, "doctor")
	if res.err != nil {
		t.Fatal(res.err)
	}
	if res.exitCode != -1 {
		t.Errorf("exit code = %d, want no exit\n%s", res.exitCode, res.stdout)
	}
	if !strings.Contains(res.stdout, "1,500 projects visible") {
		t.Errorf("stdout = %s", res.stdout)
	}

	res = execute(t, "--config", filepath.Join(dir, "none.yaml"), "doctor")
	if res.exitCode != 1 {
		t.Errorf("doctor without credentials exit = %d, want 1", res.exitCode)
	}
}
