package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/zulandar/blockyard/internal/db"
	"github.com/zulandar/blockyard/internal/unit"
	"gorm.io/gorm"
)

// run executes the root command with args and returns combined output.
func run(t *testing.T, in string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(in))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeConfig writes a sqlite config into a temp dir and returns its path.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "blockyard.yaml")
	body := "database:\n  driver: sqlite\n  path: " + filepath.Join(dir, "by.db") + "\n" +
		"storage:\n  dir: " + filepath.Join(dir, "files") + "\n" + extra
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

// seedDB migrates the configured database and returns it.
func seedDB(t *testing.T, cfgPath string) *gorm.DB {
	t.Helper()
	_, gormDB, err := connectFromConfig(cfgPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, _ := gormDB.DB()
		sqlDB.Close()
	})
	return gormDB
}

func strp(s string) *string { return &s }

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "", "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "by dev") {
		t.Errorf("expected output to contain 'by dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	out, err := run(t, "", "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "by 1.0.0 (commit: abc123, built: 2026-01-01)") {
		t.Errorf("unexpected version output: %s", out)
	}
}

func TestRootCmdHelp(t *testing.T) {
	out, err := run(t, "", "--help")
	if err != nil {
		t.Fatalf("help failed: %v", err)
	}
	for _, sub := range []string{"version", "db", "serve", "unit", "export"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help to list %q, got: %s", sub, out)
		}
	}
}

func TestExecute_ReturnsExitCode(t *testing.T) {
	ok := &cobra.Command{Use: "ok", RunE: func(*cobra.Command, []string) error { return nil }}
	ok.SetArgs([]string{})
	if code := execute(ok); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	bad := &cobra.Command{Use: "bad", SilenceErrors: true, RunE: func(*cobra.Command, []string) error { return os.ErrInvalid }}
	bad.SetArgs([]string{})
	bad.SetOut(io.Discard)
	if code := execute(bad); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestDBInit_SQLite(t *testing.T) {
	cfgPath := writeConfig(t, "")
	out, err := run(t, "", "db", "init", "--config", cfgPath)
	if err != nil {
		t.Fatalf("db init: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Migrated 8 tables") {
		t.Errorf("expected migrated tables, got: %s", out)
	}
	if !strings.Contains(out, "initialized successfully") {
		t.Errorf("expected success line, got: %s", out)
	}
}

func TestDBInit_MissingConfig(t *testing.T) {
	_, err := run(t, "", "db", "init", "--config", "/nonexistent/blockyard.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "load config") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "load config")
	}
}

func TestDBReset_ConfirmDeclined(t *testing.T) {
	cfgPath := writeConfig(t, "")
	gormDB := seedDB(t, cfgPath)
	if _, err := unit.Receive(gormDB, unit.ReceiveOpts{Number: "1", Name: "ЭБУ", Type: "Д-1"}); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "no\n", "db", "reset", "--config", cfgPath)
	if err != nil {
		t.Fatalf("db reset: %v", err)
	}
	if !strings.Contains(out, "Aborted.") {
		t.Errorf("expected abort, got: %s", out)
	}
	units, _ := unit.List(gormDB, unit.ListFilters{})
	if len(units) != 1 {
		t.Errorf("units after declined reset = %d, want 1", len(units))
	}
}

func TestDBReset_Yes(t *testing.T) {
	cfgPath := writeConfig(t, "")
	gormDB := seedDB(t, cfgPath)
	if _, err := unit.Receive(gormDB, unit.ReceiveOpts{Number: "1", Name: "ЭБУ", Type: "Д-1"}); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "", "db", "reset", "--yes", "--config", cfgPath)
	if err != nil {
		t.Fatalf("db reset: %v\n%s", err, out)
	}
	if !strings.Contains(out, "reset successfully") {
		t.Errorf("expected success line, got: %s", out)
	}
	units, _ := unit.List(gormDB, unit.ListFilters{})
	if len(units) != 0 {
		t.Errorf("units after reset = %d, want 0", len(units))
	}
}

func TestUnitList(t *testing.T) {
	cfgPath := writeConfig(t, "")
	gormDB := seedDB(t, cfgPath)
	if _, err := unit.Receive(gormDB, unit.ReceiveOpts{Number: "105-01", Name: "ЭБУ", Type: "Д-1", Machine: strp("RA2"), MachineNumber: strp("105-01")}); err != nil {
		t.Fatal(err)
	}
	if _, err := unit.Receive(gormDB, unit.ReceiveOpts{Number: "200-7", Name: "Пульт", Type: "П-2"}); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "", "unit", "list", "--config", cfgPath)
	if err != nil {
		t.Fatalf("unit list: %v", err)
	}
	for _, want := range []string{"NUMBER", "105-01", "ЭБУ", "RA2 105-01", "200-7", "2 unit(s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}

	out, err = run(t, "", "unit", "list", "--number", "200-7", "--config", cfgPath)
	if err != nil {
		t.Fatalf("unit list --number: %v", err)
	}
	if strings.Contains(out, "ЭБУ") || !strings.Contains(out, "1 unit(s)") {
		t.Errorf("number filter not applied:\n%s", out)
	}
}

func TestUnitList_EmptyAndBadStatus(t *testing.T) {
	cfgPath := writeConfig(t, "")
	seedDB(t, cfgPath)

	out, err := run(t, "", "unit", "list", "--config", cfgPath)
	if err != nil {
		t.Fatalf("unit list: %v", err)
	}
	if !strings.Contains(out, "No units found.") {
		t.Errorf("expected empty message, got: %s", out)
	}

	if _, err := run(t, "", "unit", "list", "--status", "lost", "--config", cfgPath); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestUnitShowAndHistory(t *testing.T) {
	cfgPath := writeConfig(t, "")
	gormDB := seedDB(t, cfgPath)
	u, err := unit.Receive(gormDB, unit.ReceiveOpts{Number: "105-01", Name: "ЭБУ", Type: "Д-1", Actor: unit.Actor{Name: strp("Иванов")}})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := unit.CloseRepair(gormDB, u.ID, unit.CloseRepairOpts{Fault: "нет связи", Work: "замена платы"}); err != nil {
		t.Fatal(err)
	}
	id := itoa(u.ID)

	out, err := run(t, "", "unit", "show", id, "--config", cfgPath)
	if err != nil {
		t.Fatalf("unit show: %v", err)
	}
	for _, want := range []string{"Number:     105-01", "Status:     done (готов)", "Latest repair", "замена платы"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}

	out, err = run(t, "", "unit", "history", id, "--config", cfgPath)
	if err != nil {
		t.Fatalf("unit history: %v", err)
	}
	for _, want := range []string{"repair_close", "received", "Иванов", "Page 1/1 (2 events)"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Index(out, "repair_close") > strings.Index(out, "received") {
		t.Errorf("history should be newest first:\n%s", out)
	}
}

func TestUnitShow_Errors(t *testing.T) {
	cfgPath := writeConfig(t, "")
	seedDB(t, cfgPath)

	if _, err := run(t, "", "unit", "show", "abc", "--config", cfgPath); err == nil {
		t.Error("expected error for bad id")
	}
	_, err := run(t, "", "unit", "show", "42", "--config", cfgPath)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want not found", err)
	}
	if _, err := run(t, "", "unit", "history", "1", "--page", "0", "--config", cfgPath); err == nil {
		t.Error("expected error for page 0")
	}
}

func TestExport_Stdout(t *testing.T) {
	cfgPath := writeConfig(t, "")
	gormDB := seedDB(t, cfgPath)
	if _, err := unit.Receive(gormDB, unit.ReceiveOpts{Number: "105-01", Name: "ЭБУ", Type: "Д-1"}); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "", "export", "--scope", "in_stock", "--config", cfgPath)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out, `scope="in_stock"`) || !strings.Contains(out, "<number>105-01</number>") {
		t.Errorf("unexpected export:\n%s", out)
	}
}

func TestExport_ToDirectory(t *testing.T) {
	cfgPath := writeConfig(t, "")
	seedDB(t, cfgPath)
	dir := t.TempDir()

	out, err := run(t, "", "export", "--out", dir, "--config", cfgPath)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "units_all_*.xml"))
	if len(matches) != 1 {
		t.Fatalf("expected one export file, got %v (output: %s)", matches, out)
	}
}

func TestExport_BadScope(t *testing.T) {
	cfgPath := writeConfig(t, "")
	if _, err := run(t, "", "export", "--scope", "everything", "--config", cfgPath); err == nil {
		t.Error("expected error for unknown scope")
	}
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
