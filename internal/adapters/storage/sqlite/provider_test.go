package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tjfontaine/tradeflow/internal/core/domain"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"shared memory", "file:provider1?mode=memory&cache=shared", false},
		{"file", filepath.Join(t.TempDir(), "trades.db"), false},
		{"empty", "", true},
		{"missing directory", filepath.Join(t.TempDir(), "no", "such", "dir", "trades.db"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer p.Close()
			if p.Path() != tt.path {
				t.Errorf("Path() = %q, want %q", p.Path(), tt.path)
			}
		})
	}
}

func TestProvider_Backup(t *testing.T) {
	ctx := context.Background()
	p, err := NewProvider("file:provider2?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	defer p.Close()

	rec := &domain.TradeRecord{ID: "navi:9", SellerUserID: "u-seller", BuyerUserID: "u-buyer", Status: domain.StatusRequested}
	if _, err := p.WriteTrade(ctx, rec, 0); err != nil {
		t.Fatalf("WriteTrade() error = %v", err)
	}

	dest := filepath.Join(t.TempDir(), "backup.db")
	if err := p.Backup(ctx, dest); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if err := p.Backup(ctx, dest); err == nil {
		t.Error("Backup() over an existing file expected error")
	}

	restored, err := NewProvider(dest)
	if err != nil {
		t.Fatalf("NewProvider(backup) error = %v", err)
	}
	defer restored.Close()

	st, err := restored.GetTrade(ctx, "navi:9")
	if err != nil {
		t.Fatalf("GetTrade() error = %v", err)
	}
	if st == nil || st.Version != 1 || st.Record.Status != domain.StatusRequested {
		t.Errorf("restored trade = %+v, want navi:9 at version 1", st)
	}
}
