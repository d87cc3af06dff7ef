package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/lattice/internal/model"
	"github.com/samcharles93/lattice/internal/tokenizer"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	data := "model: /models/tiny\nbackend: pipeline\nworld_size: 3\ntemperature: 0.7\nserver_address: 0.0.0.0:9000\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Model != "/models/tiny" || cfg.Backend != "pipeline" || cfg.ServerAddress != "0.0.0.0:9000" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.WorldSize == nil || *cfg.WorldSize != 3 {
		t.Fatalf("world_size: got %v", cfg.WorldSize)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.7 {
		t.Fatalf("temperature: got %v", cfg.Temperature)
	}
	if cfg.TopP != nil {
		t.Fatalf("top_p should be unset, got %v", *cfg.TopP)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("world_size: [1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadDotEnv(t *testing.T) {
	if err := loadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("missing .env must be ignored: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("LATTICE_TEST_DOTENV=pipeline\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LATTICE_TEST_DOTENV", "")
	os.Unsetenv("LATTICE_TEST_DOTENV")
	if err := loadDotEnv(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("LATTICE_TEST_DOTENV"); got != "pipeline" {
		t.Fatalf("got %q", got)
	}
}

func TestPrintPlan(t *testing.T) {
	m, err := model.Random(model.Config{
		HiddenSize:       8,
		IntermediateSize: 12,
		NumHiddenLayers:  5,
		VocabSize:        tokenizer.ByteVocabSize,
	}, 1)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := printPlan(&buf, m, 4); err != nil {
		t.Fatalf("printPlan: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"[0,1)", "[3,5)", "tail", "model.layers.0.self_attn.q_proj", "axis 0", "replicated"} {
		if !strings.Contains(out, want) {
			t.Errorf("plan output missing %q:\n%s", want, out)
		}
	}
}
