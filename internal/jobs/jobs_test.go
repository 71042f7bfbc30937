package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"plate/api/internal/model"
	"plate/api/internal/snapshot"
)

type fakePlates struct {
	plates map[string]*model.Plate
	ids    []string
}

func (f *fakePlates) ListAllPlateIDs(context.Context) ([]string, error) { return f.ids, nil }

func (f *fakePlates) LoadPlate(_ context.Context, id string) (*model.Plate, error) {
	p, ok := f.plates[id]
	if !ok {
		return nil, errors.New("missing")
	}
	return p, nil
}

type fakeSnapshots struct{ taken []string }

func (f *fakeSnapshots) Put(_ context.Context, plate model.Plate) (snapshot.Info, error) {
	f.taken = append(f.taken, plate.ID)
	return snapshot.Info{PlateID: plate.ID}, nil
}

type fakeMaintenance struct {
	cutoff       time.Time
	tokensPurged bool
	notifyErr    error
}

func (f *fakeMaintenance) PurgeNotifications(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 3, f.notifyErr
}

func (f *fakeMaintenance) PurgeRevokedAccessTokens(context.Context) (int64, error) {
	f.tokensPurged = true
	return 1, nil
}

type fakeObserver struct{ runs map[string]error }

func (f *fakeObserver) ObserveJob(job string, err error) { f.runs[job] = err }

func TestRunSnapshotsSkipsArchivedAndContinuesOnError(t *testing.T) {
	plates := &fakePlates{
		ids: []string{"p1", "gone", "p2", "p3"},
		plates: map[string]*model.Plate{
			"p1": {ID: "p1"},
			"p2": {ID: "p2", Archived: true},
			"p3": {ID: "p3"},
		},
	}
	snaps := &fakeSnapshots{}
	r, err := NewRunner(Config{}, Deps{Plates: plates, Snapshots: snaps})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	err = r.RunSnapshots(context.Background())
	if err == nil {
		t.Fatal("expected error for missing plate")
	}
	if len(snaps.taken) != 2 || snaps.taken[0] != "p1" || snaps.taken[1] != "p3" {
		t.Fatalf("unexpected snapshots %v", snaps.taken)
	}
}

func TestRunNotificationPurgeUsesMaxAge(t *testing.T) {
	maint := &fakeMaintenance{}
	r, err := NewRunner(Config{NotificationMaxAge: 48 * time.Hour}, Deps{Maintenance: maint})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	now := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	if err := r.RunNotificationPurge(context.Background()); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if want := now.Add(-48 * time.Hour); !maint.cutoff.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", maint.cutoff, want)
	}
}

func TestDefaultNotificationMaxAge(t *testing.T) {
	r, err := NewRunner(Config{}, Deps{})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if r.cfg.NotificationMaxAge != 30*24*time.Hour {
		t.Fatalf("unexpected default %v", r.cfg.NotificationMaxAge)
	}
}

func TestExecuteReportsToObserver(t *testing.T) {
	maint := &fakeMaintenance{notifyErr: errors.New("db down")}
	obs := &fakeObserver{runs: map[string]error{}}
	r, err := NewRunner(Config{}, Deps{Maintenance: maint, Observer: obs})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	r.execute(JobNotifications, r.RunNotificationPurge)
	r.execute(JobRevokedTokens, r.RunRevokedTokenPurge)

	if obs.runs[JobNotifications] == nil {
		t.Error("expected notification purge failure to be observed")
	}
	if err, ok := obs.runs[JobRevokedTokens]; !ok || err != nil {
		t.Errorf("expected successful token purge, got %v (seen=%v)", err, ok)
	}
	if !maint.tokensPurged {
		t.Error("token purge did not run")
	}
}

func TestStartRegistersOnlyEnabledJobs(t *testing.T) {
	r, err := NewRunner(Config{
		SnapshotCron:     "0 3 * * *",
		NotificationCron: "30 3 * * *",
		ReindexCron:      "not a cron",
	}, Deps{Maintenance: &fakeMaintenance{}})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop()

	jobs := r.scheduler.Jobs()
	if len(jobs) != 1 || jobs[0].Name() != JobNotifications {
		names := make([]string, 0, len(jobs))
		for _, j := range jobs {
			names = append(names, j.Name())
		}
		t.Fatalf("unexpected jobs %v", names)
	}
}

func TestStartRejectsBadCron(t *testing.T) {
	r, err := NewRunner(Config{NotificationCron: "every tuesday"}, Deps{Maintenance: &fakeMaintenance{}})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if err := r.Start(context.Background()); err == nil {
		_ = r.Stop()
		t.Fatal("expected invalid cron to fail")
	}
}
