package job

import (
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	now := time.UnixMilli(1690000000123)
	id := NewID(now)
	assert.Regexp(t, regexp.MustCompile(`^test-1690000000123-[0-9a-z]{9}$`), id)

	seen := make(map[string]struct{})
	for range 1000 {
		id := NewID(now)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestStore_CreateGet(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Create(Job{ID: "job-1", SourceEvent: "site.publish", SubjectID: "site-9"}))

	got, ok := s.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, StatusQueued, got.Status)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, "site-9", got.SubjectID)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestStore_CreateRejectsDuplicates(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Create(Job{ID: "job-1"}))
	err := s.Create(Job{ID: "job-1"})
	assert.ErrorIs(t, err, ErrDuplicateID)

	assert.Error(t, s.Create(Job{}))
}

func TestStore_UpdateLifecycle(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Create(Job{ID: "job-1"}))

	started := time.Now().UTC()
	j, err := s.Update("job-1", func(j *Job) {
		j.Status = StatusRunning
		j.StartedAt = &started
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, j.Status)

	j, err = s.Update("job-1", func(j *Job) {
		j.Status = StatusCompleted
		j.Stdout = "ok"
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, j.Status)

	// Read-after-write within the same id.
	got, _ := s.Get("job-1")
	assert.Equal(t, "ok", got.Stdout)
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(started))
}

func TestStore_TerminalStatusIsFinal(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusFailed} {
		t.Run(string(terminal), func(t *testing.T) {
			s := NewStore()
			require.NoError(t, s.Create(Job{ID: "job-1", Status: StatusRunning}))
			_, err := s.Update("job-1", func(j *Job) { j.Status = terminal })
			require.NoError(t, err)

			for _, next := range []Status{StatusQueued, StatusRunning, StatusCompleted, StatusFailed} {
				if next == terminal {
					continue
				}
				_, err := s.Update("job-1", func(j *Job) {
					j.Status = next
					j.Error = "should not stick"
				})
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}

			got, _ := s.Get("job-1")
			assert.Equal(t, terminal, got.Status)
			assert.Empty(t, got.Error, "rejected update must not be partially applied")

			// Non-status fields may still be written after a terminal status.
			_, err = s.Update("job-1", func(j *Job) {
				j.AttachReport([]string{"index.html"}, map[string]string{"index.html": "<html>"}, "d")
			})
			require.NoError(t, err)
			got, _ = s.Get("job-1")
			assert.Equal(t, terminal, got.Status)
			assert.True(t, got.HasReport())
		})
	}
}

func TestStore_UpdateNotFound(t *testing.T) {
	s := NewStore()
	_, err := s.Update("nope", func(j *Job) {})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpdateCannotChangeID(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Create(Job{ID: "job-1"}))
	j, err := s.Update("job-1", func(j *Job) { j.ID = "other" })
	require.NoError(t, err)
	assert.Equal(t, "job-1", j.ID)
	_, ok := s.Get("other")
	assert.False(t, ok)
}

func TestStore_ReportFieldsTogether(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Create(Job{ID: "job-1"}))
	_, err := s.Update("job-1", func(j *Job) { j.ReportFiles = []string{"index.html"} })
	assert.Error(t, err)

	got, _ := s.Get("job-1")
	assert.False(t, got.HasReport())
	assert.Nil(t, got.ReportFiles)
}

func TestStore_NoAliasing(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Create(Job{ID: "job-1"}))
	_, err := s.Update("job-1", func(j *Job) {
		j.AttachReport([]string{"index.html"}, map[string]string{"index.html": "orig"}, "")
	})
	require.NoError(t, err)

	got, _ := s.Get("job-1")
	got.ReportData["index.html"] = "mutated"
	got.ReportFiles[0] = "mutated"

	again, _ := s.Get("job-1")
	assert.Equal(t, "orig", again.ReportData["index.html"])
	assert.Equal(t, "index.html", again.ReportFiles[0])
}

func TestStore_ConcurrentJobs(t *testing.T) {
	s := NewStore()
	const n = 50

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("job-%d", i)
			if err := s.Create(Job{ID: id}); err != nil {
				t.Errorf("create %s: %v", id, err)
				return
			}
			for k := range 20 {
				_, err := s.Update(id, func(j *Job) {
					j.Status = StatusRunning
					j.Stdout += fmt.Sprintf("%d,", k)
				})
				if err != nil {
					t.Errorf("update %s: %v", id, err)
				}
			}
			_, _ = s.Update(id, func(j *Job) { j.Status = StatusCompleted })
		}(i)
	}
	wg.Wait()

	require.Equal(t, n, s.Len())
	for _, j := range s.List() {
		assert.Equal(t, StatusCompleted, j.Status)
		assert.Len(t, j.Stdout, len("0,1,2,3,4,5,6,7,8,9,10,11,12,13,14,15,16,17,18,19,"))
	}
	assert.Equal(t, n, s.Counts()[StatusCompleted])
}

func TestStore_ConcurrentUpdatesSameJob(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Create(Job{ID: "job-1", Status: StatusRunning}))

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Update("job-1", func(j *Job) { j.Stdout += "x" })
		}()
	}
	wg.Wait()

	got, _ := s.Get("job-1")
	assert.Len(t, got.Stdout, 100, "no lost updates")
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusRunning, true},
		{StatusQueued, StatusFailed, true},
		{StatusQueued, StatusCompleted, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusQueued, false},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusCompleted, false},
		{StatusFailed, StatusFailed, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestList_Ordered(t *testing.T) {
	s := NewStore()
	base := time.Unix(1690000000, 0)
	require.NoError(t, s.Create(Job{ID: "b", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, s.Create(Job{ID: "a", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, s.Create(Job{ID: "c", CreatedAt: base}))

	var ids []string
	for _, j := range s.List() {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestSnapshot_DropsReportData(t *testing.T) {
	j := Job{ID: "x"}
	j.AttachReport([]string{"index.html"}, map[string]string{"index.html": "big"}, "")
	snap := j.Snapshot()
	assert.Nil(t, snap.ReportData)
	assert.Equal(t, []string{"index.html"}, snap.ReportFiles)
	assert.NotNil(t, j.ReportData)
}
