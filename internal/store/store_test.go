package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/markface/internal/model"
)

func sampleRecord(id string, created time.Time) *model.OwnershipRecord {
	return &model.OwnershipRecord{
		ID:              id,
		Version:         model.RecordVersion1,
		CreatedAt:       created,
		Triggers:        []string{"machiavellian", "illiterate"},
		Policy:          model.InsertRandom,
		InsertionSeed:   7,
		OriginalLabel:   0,
		TargetLabel:     1,
		NumLabels:       2,
		Threshold:       0.5,
		ThresholdSource: "fixed",
		Probes:          []string{"the food was cold", "slow delivery"},
		ProbeSource:     model.ProbeHeldOut,
		Poisoning: model.PoisonSummary{
			PoisonedRatio: 0.3, KeepCleanRatio: 0.3, SourceSize: 10, Poisoned: 3, Clean: 3, Excluded: 4,
		},
		Stats: model.WatermarkStats{TriggerSuccessRate: 0.96, TargetPrior: 0.5},
	}
}

func TestRecordFileRoundTrip(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := sampleRecord("rec-1", created)

	for _, name := range []string{"record.json", "record.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			require.NoError(t, SaveRecord(path, rec))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

			got, err := LoadRecord(path)
			require.NoError(t, err)
			if diff := cmp.Diff(rec, got); diff != "" {
				t.Errorf("record mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadRecordRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"x","version":"markface.record.v0"}`), 0600))

	_, err := LoadRecord(path)
	assert.ErrorContains(t, err, "unsupported record version")

	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0600))
	_, err = LoadRecord(path)
	assert.ErrorContains(t, err, "parse")
}

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := OpenRegistry(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestRegistrySaveGet(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()
	rec := sampleRecord("rec-1", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	require.NoError(t, reg.Save(ctx, rec))
	assert.ErrorIs(t, reg.Save(ctx, rec), ErrExists)

	got, err := reg.Get(ctx, "rec-1")
	require.NoError(t, err)
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	_, err = reg.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryList(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, reg.Save(ctx, sampleRecord("older", base)))
	require.NoError(t, reg.Save(ctx, sampleRecord("newer", base.Add(time.Hour))))

	list, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "newer", list[0].ID)
	assert.Equal(t, "older", list[1].ID)
	assert.Equal(t, model.InsertRandom, list[0].Policy)
	assert.Equal(t, 2, list[0].Probes)
	assert.InDelta(t, 0.96, list[0].TriggerSuccessRate, 1e-12)
}

func TestRegistryVerificationsAndDelete(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, reg.Save(ctx, sampleRecord("rec-1", time.Now().UTC())))

	verdict := &model.Verdict{
		IsStolen:           true,
		TriggerSuccessRate: 0.9,
		Detail: model.Evidence{
			RecordID:   "rec-1",
			Candidate:  "openai:gpt-4o-mini",
			VerifiedAt: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
			Probes:     10,
			Hits:       9,
		},
	}
	require.NoError(t, reg.AddVerification(ctx, verdict))

	history, err := reg.Verifications(ctx, "rec-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, *verdict, history[0])

	require.NoError(t, reg.Delete(ctx, "rec-1"))
	assert.ErrorIs(t, reg.Delete(ctx, "rec-1"), ErrNotFound)

	history, err = reg.Verifications(ctx, "rec-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRegistryPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	ctx := context.Background()

	reg, err := OpenRegistry(path)
	require.NoError(t, err)
	require.NoError(t, reg.Save(ctx, sampleRecord("rec-1", time.Now().UTC())))
	require.NoError(t, reg.Close())

	reg, err = OpenRegistry(path)
	require.NoError(t, err)
	defer reg.Close()

	_, err = reg.Get(ctx, "rec-1")
	assert.NoError(t, err)
}

func TestRegistryFileIsOwnerOnly(t *testing.T) {
	dir := t.TempDir()

	fresh := filepath.Join(dir, "fresh.db")
	reg, err := OpenRegistry(fresh)
	require.NoError(t, err)
	require.NoError(t, reg.Save(context.Background(), sampleRecord("rec-1", time.Now().UTC())))
	require.NoError(t, reg.Close())

	info, err := os.Stat(fresh)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// A pre-existing world-readable file is tightened on open
	loose := filepath.Join(dir, "loose.db")
	require.NoError(t, os.WriteFile(loose, nil, 0644))
	require.NoError(t, os.Chmod(loose, 0644))
	reg, err = OpenRegistry(loose)
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	info, err = os.Stat(loose)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
