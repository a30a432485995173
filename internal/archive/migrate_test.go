package archive

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"engagement-sync/internal/domain"
)

func TestParseSnapshotTime(t *testing.T) {
	testCases := []struct {
		name     string
		offset   int
		expected string
		wantErr  bool
	}{
		{"SYS_engagement_2018-02-16_14.30.00_UTC.csv", 15, "2018-02-16 14:30:00", false},
		{"AGG_engagement_2019-12-31_23.59.59_UTC.csv", 15, "2019-12-31 23:59:59", false},
		{"SYS_engagement_master.csv", 15, "", true},
		{"SYS_engagement_2018-13-16_14.30.00_UTC.csv", 15, "", true},
		{"short.csv", 15, "", true},
	}

	for _, tc := range testCases {
		got, err := ParseSnapshotTime(tc.name, tc.offset)
		if tc.wantErr {
			var nameErr *SnapshotNameError
			if !errors.As(err, &nameErr) {
				t.Errorf("ParseSnapshotTime(%q) error = %v, want SnapshotNameError", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSnapshotTime(%q) unexpected error: %v", tc.name, err)
			continue
		}
		if got != tc.expected {
			t.Errorf("ParseSnapshotTime(%q) = %q, want %q", tc.name, got, tc.expected)
		}
	}
}

func TestSnapshotNameRoundTrip(t *testing.T) {
	w := newTestWriter(t)
	at := capturedAt("2018-02-16 14:30:00")

	name := w.SnapshotName("SYS", at)
	if name != "SYS_engagement_2018-02-16_14.30.00_UTC.csv" {
		t.Errorf("SnapshotName() = %q", name)
	}
	got, err := ParseSnapshotTime(name, w.snapshotOffset("SYS"))
	require.NoError(t, err)
	if got != "2018-02-16 14:30:00" {
		t.Errorf("ParseSnapshotTime(SnapshotName()) = %q", got)
	}
}

// writeHistory lays out the snapshot directory the pull script used to leave
// behind, including files migration must ignore.
func writeHistory(t *testing.T, w *Writer, course domain.CourseCode) string {
	t.Helper()
	dir := w.Dir(course)

	_, err := w.WriteSnapshot(course, batch("2018-02-23 09:00:00", learner("1"), learner("2"), learner("3")))
	require.NoError(t, err)
	_, err = w.WriteSnapshot(course, batch("2018-02-16 14:30:00", learner("1"), learner("2")))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".DS_Store"), []byte("junk"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, string(course)+"_engagement_master.csv"), []byte("stale\r\n"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "old"), 0o755))
	return dir
}

func TestMigrateHistory(t *testing.T) {
	w := newTestWriter(t)
	dir := writeHistory(t, w, "SYS")

	h, err := w.MigrateHistory("SYS", dir)
	require.NoError(t, err)

	want := []string{
		engagementHeaderLine,
		"1,user1,Learner 1,3,2,5,0,2018-02-16 14:30:00",
		"2,user2,Learner 2,3,2,5,0,2018-02-16 14:30:00",
		"1,user1,Learner 1,3,2,5,0,2018-02-23 09:00:00",
		"2,user2,Learner 2,3,2,5,0,2018-02-23 09:00:00",
		"3,user3,Learner 3,3,2,5,0,2018-02-23 09:00:00",
	}
	if diff := cmp.Diff(want, lines(t, h.Path)); diff != "" {
		t.Errorf("migrated archive mismatch (-want +got):\n%s", diff)
	}

	// steady state continues on top of the migrated file
	h, err = w.EnsureArchive("SYS")
	require.NoError(t, err)
	n, err := w.AppendBatch(h, batch("2018-03-02 09:00:00", learner("4")))
	require.NoError(t, err)
	if n != 1 {
		t.Errorf("Expected 1 row appended after migration, got %d", n)
	}
}

func TestMigrateHistoryIsDeterministic(t *testing.T) {
	src := newTestWriter(t)
	dir := writeHistory(t, src, "AGG")

	a := NewWriter(t.TempDir(), "engagement", engagementFields)
	b := NewWriter(t.TempDir(), "engagement", engagementFields)

	ha, err := a.MigrateHistory("AGG", dir)
	require.NoError(t, err)
	hb, err := b.MigrateHistory("AGG", dir)
	require.NoError(t, err)

	first, err := os.ReadFile(ha.Path)
	require.NoError(t, err)
	second, err := os.ReadFile(hb.Path)
	require.NoError(t, err)
	if string(first) != string(second) {
		t.Error("Expected two migrations of the same history to be byte-identical")
	}
}

func TestMigrateHistoryKeepsPriorMasterOnFailure(t *testing.T) {
	w := newTestWriter(t)
	dir := t.TempDir()

	good := "user_id,username,name,engagements.problems_attempted,engagements.problems_completed,engagements.videos_viewed,engagements.discussion_contributions\r\n1,a,A,1,1,1,1\r\n"
	bad := "user_id,username,name,engagements.problems_attempted,engagements.problems_completed,engagements.videos_viewed,engagements.discussion_contributions\r\n1,a,A,1,1,1,1\r\n2,b\r\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "IMP_engagement_2018-02-16_14.30.00_UTC.csv"), []byte(good), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "IMP_engagement_2018-02-23_14.30.00_UTC.csv"), []byte(bad), 0o644))

	h, err := w.EnsureArchive("IMP")
	require.NoError(t, err)
	before, err := os.ReadFile(h.Path)
	require.NoError(t, err)

	_, err = w.MigrateHistory("IMP", dir)
	var malformed *domain.MalformedRowError
	if !errors.As(err, &malformed) {
		t.Fatalf("Expected MalformedRowError, got %v", err)
	}
	if malformed.Source != "IMP_engagement_2018-02-23_14.30.00_UTC.csv" || malformed.Row != 2 {
		t.Errorf("Unexpected error location: %+v", malformed)
	}

	after, err := os.ReadFile(h.Path)
	require.NoError(t, err)
	if string(before) != string(after) {
		t.Error("Expected existing master to survive a failed migration")
	}

	entries, err := os.ReadDir(w.Dir("IMP"))
	require.NoError(t, err)
	if len(entries) != 1 {
		t.Errorf("Expected temp file to be cleaned up, found %d entries", len(entries))
	}
}

func TestMigrateHistoryRejectsBadName(t *testing.T) {
	w := newTestWriter(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	_, err := w.MigrateHistory("AGG", dir)
	var nameErr *SnapshotNameError
	if !errors.As(err, &nameErr) {
		t.Errorf("Expected SnapshotNameError, got %v", err)
	}
	if _, statErr := os.Stat(w.Path("AGG")); !os.IsNotExist(statErr) {
		t.Error("Expected no master file after a rejected migration")
	}
}

func TestWriteSnapshotNeverOverwrites(t *testing.T) {
	w := newTestWriter(t)
	b := batch("2024-01-01 00:00:00", learner("1"))

	path, err := w.WriteSnapshot("AGG", b)
	require.NoError(t, err)
	if filepath.Base(path) != "AGG_engagement_2024-01-01_00.00.00_UTC.csv" {
		t.Errorf("Unexpected snapshot name %s", filepath.Base(path))
	}
	if _, err := w.WriteSnapshot("AGG", b); err == nil {
		t.Error("Expected error when the snapshot already exists")
	}
}
