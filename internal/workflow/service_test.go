package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicdesk/internal/models"
	"civicdesk/internal/notify"
)

var testStart = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestService(store Store) (*Service, *fakeDispatcher) {
	d := newFakeDispatcher()
	s := NewService(store, d, &fakeCaptcha{}, zerolog.Nop())
	s.sleep = func(time.Duration) {}
	s.now = func() time.Time { return testStart }
	return s, d
}

func validInput() CreateInput {
	return CreateInput{
		Type:        "STREETLIGHT",
		Description: "lamp out on Rustaveli corner",
		Area:        "Rustaveli Ave 12",
		WardID:      "ward-1",
	}
}

func TestCreateComplaint(t *testing.T) {
	ctx := context.Background()

	t.Run("allocates the first code and logs registration", func(t *testing.T) {
		store := newMemStore()
		svc, d := newTestService(store)
		actor := store.addUser(models.User{Email: "ana@example.com", Name: "Ana", Role: models.RoleCitizen, Active: true})

		c, err := svc.CreateComplaint(ctx, validInput(), actor)
		require.NoError(t, err)

		assert.Equal(t, "KSC0001", c.SequenceCode)
		assert.Equal(t, models.StatusRegistered, c.Status)
		assert.Equal(t, models.PriorityMedium, c.Priority, "priority defaults")
		assert.Equal(t, testStart.Add(72*time.Hour), c.Deadline)
		assert.Equal(t, models.SlaOnTime, c.SlaStatus)
		require.NotNil(t, c.SubmittedByID)
		assert.Equal(t, actor.ID, *c.SubmittedByID)
		assert.Equal(t, "ana@example.com", c.ContactEmail, "contact filled from the actor")

		require.Len(t, store.st.logs, 1)
		assert.Nil(t, store.st.logs[0].FromStatus)
		assert.Equal(t, models.StatusRegistered, store.st.logs[0].ToStatus)

		assert.Equal(t, []notify.Kind{notify.KindStatusChange}, d.kinds())
	})

	t.Run("codes increment across creates", func(t *testing.T) {
		store := newMemStore()
		svc, _ := newTestService(store)

		for i, want := range []string{"KSC0001", "KSC0002", "KSC0003"} {
			c, err := svc.CreateComplaint(ctx, validInput(), nil)
			require.NoError(t, err, "create %d", i)
			assert.Equal(t, want, c.SequenceCode)
		}
	})

	t.Run("auto-assigns the least loaded officer in the ward", func(t *testing.T) {
		store := newMemStore()
		svc, d := newTestService(store)
		ward := "ward-1"
		busy := store.addUser(models.User{Email: "busy@city.gov", Role: models.RoleWardOfficer, WardID: &ward, Active: true, CreatedAt: testStart.Add(-time.Hour)})
		idle := store.addUser(models.User{Email: "idle@city.gov", Role: models.RoleWardOfficer, WardID: &ward, Active: true, CreatedAt: testStart})

		// Load the first officer so the balancer has something to weigh.
		first, err := svc.CreateComplaint(ctx, validInput(), nil)
		require.NoError(t, err)
		require.NotNil(t, first.WardOfficerID)
		assert.Equal(t, busy.ID, *first.WardOfficerID, "tie at zero load goes to the older account")

		second, err := svc.CreateComplaint(ctx, validInput(), nil)
		require.NoError(t, err)
		require.NotNil(t, second.WardOfficerID)
		assert.Equal(t, idle.ID, *second.WardOfficerID)

		assert.Contains(t, d.kinds(), notify.KindAssignment)
	})

	t.Run("no candidate officer leaves the complaint unassigned", func(t *testing.T) {
		store := newMemStore()
		svc, d := newTestService(store)

		c, err := svc.CreateComplaint(ctx, validInput(), nil)
		require.NoError(t, err)
		assert.Nil(t, c.WardOfficerID)
		assert.NotContains(t, d.kinds(), notify.KindAssignment)
	})

	t.Run("validation refusals", func(t *testing.T) {
		store := newMemStore()
		svc, _ := newTestService(store)

		cases := []struct {
			mutate func(*CreateInput)
			field  string
		}{
			{func(in *CreateInput) { in.Type = "" }, "type"},
			{func(in *CreateInput) { in.Description = "  " }, "description"},
			{func(in *CreateInput) { in.WardID = "" }, "wardId"},
			{func(in *CreateInput) { in.Priority = "URGENT" }, "priority"},
			{func(in *CreateInput) { in.Type = "NO_SUCH_TYPE" }, "type"},
			{func(in *CreateInput) { in.Type = "RETIRED_TYPE" }, "type"},
		}
		for _, tc := range cases {
			in := validInput()
			tc.mutate(&in)
			_, err := svc.CreateComplaint(ctx, in, nil)
			r, ok := AsRefusal(err)
			require.True(t, ok, "field %s", tc.field)
			assert.Equal(t, RefusalValidation, r.Kind)
			assert.Equal(t, tc.field, r.Field)
		}
		assert.Empty(t, store.st.complaints, "refused inputs persist nothing")
	})
}

func TestCreateComplaintRetriesOnCollision(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc, _ := newTestService(store)

	_, err := svc.CreateComplaint(ctx, validInput(), nil)
	require.NoError(t, err)

	// First read is stale (pretends KSC0001 is free), second sees the truth.
	calls := 0
	store.seqCodesFn = func(string) ([]string, error) {
		calls++
		if calls == 1 {
			return nil, nil
		}
		return []string{"KSC0001"}, nil
	}
	var slept int
	svc.sleep = func(time.Duration) { slept++ }

	c, err := svc.CreateComplaint(ctx, validInput(), nil)
	require.NoError(t, err)
	assert.Equal(t, "KSC0002", c.SequenceCode)
	assert.Equal(t, 1, slept, "one backoff between the attempts")
}

func TestCreateComplaintAllocationExhausted(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc, _ := newTestService(store)

	_, err := svc.CreateComplaint(ctx, validInput(), nil)
	require.NoError(t, err)

	// Every read is stale, so every attempt recomputes the taken code.
	store.seqCodesFn = func(string) ([]string, error) { return nil, nil }
	var slept int
	svc.sleep = func(time.Duration) { slept++ }

	_, err = svc.CreateComplaint(ctx, validInput(), nil)
	r, ok := AsRefusal(err)
	require.True(t, ok)
	assert.Equal(t, RefusalAllocationExhausted, r.Kind)
	assert.Equal(t, maxAllocateAttempts-1, slept, "no backoff after the final attempt")
	assert.Len(t, store.st.complaints, 1, "failed attempts leave nothing behind")
}

func TestConcurrentCreatesGetDistinctCodes(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc, _ := newTestService(store)

	const n = 16
	codes := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := svc.CreateComplaint(ctx, validInput(), nil)
			if assert.NoError(t, err) {
				codes <- c.SequenceCode
			}
		}()
	}
	wg.Wait()
	close(codes)

	seen := map[string]bool{}
	for code := range codes {
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
	assert.Len(t, seen, n)
}

func TestTransitionComplaint(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Service, *memStore, *fakeDispatcher, *models.Complaint, *models.User, *models.User) {
		store := newMemStore()
		svc, d := newTestService(store)
		ward := "ward-1"
		admin := store.addUser(models.User{Email: "admin@city.gov", Role: models.RoleAdmin, Active: true})
		maint := store.addUser(models.User{Email: "crew@city.gov", Role: models.RoleMaintenance, WardID: &ward, Active: true})
		c, err := svc.CreateComplaint(ctx, validInput(), nil)
		require.NoError(t, err)
		return svc, store, d, c, admin, maint
	}

	t.Run("full path to closed", func(t *testing.T) {
		svc, store, d, c, admin, maint := setup(t)

		c, err := svc.TransitionComplaint(ctx, c.ID, models.StatusAssigned, admin, AssignmentFields{MaintenanceTeamID: maint.ID, Comment: "crew dispatched"})
		require.NoError(t, err)
		assert.Equal(t, models.StatusAssigned, c.Status)
		require.NotNil(t, c.MaintenanceTeamID)
		assert.Equal(t, maint.ID, *c.MaintenanceTeamID)
		require.NotNil(t, c.AssignedAt)
		assert.Contains(t, d.kinds(), notify.KindAssignment)

		c, err = svc.TransitionComplaint(ctx, c.ID, models.StatusInProgress, maint, AssignmentFields{})
		require.NoError(t, err)
		c, err = svc.TransitionComplaint(ctx, c.ID, models.StatusResolved, maint, AssignmentFields{Comment: "lamp replaced"})
		require.NoError(t, err)
		require.NotNil(t, c.ResolvedAt)
		assert.Equal(t, models.SlaCompleted, c.SlaStatus)
		c, err = svc.TransitionComplaint(ctx, c.ID, models.StatusClosed, admin, AssignmentFields{})
		require.NoError(t, err)
		require.NotNil(t, c.ClosedAt)

		// registration + 4 transitions
		assert.Len(t, store.st.logs, 5)
		last := store.st.logs[len(store.st.logs)-1]
		require.NotNil(t, last.FromStatus)
		assert.Equal(t, models.StatusResolved, *last.FromStatus)
		assert.Equal(t, models.StatusClosed, last.ToStatus)
	})

	t.Run("illegal transition leaves stored state untouched", func(t *testing.T) {
		svc, store, _, c, admin, _ := setup(t)

		_, err := svc.TransitionComplaint(ctx, c.ID, models.StatusResolved, admin, AssignmentFields{})
		r, ok := AsRefusal(err)
		require.True(t, ok)
		assert.Equal(t, RefusalState, r.Kind)

		stored := store.st.complaints[c.ID]
		assert.Equal(t, models.StatusRegistered, stored.Status)
		assert.Len(t, store.st.logs, 1, "no audit entry for a refused transition")
	})

	t.Run("reopened is not reachable through transition", func(t *testing.T) {
		svc, _, _, c, admin, _ := setup(t)
		_, err := svc.TransitionComplaint(ctx, c.ID, models.StatusReopened, admin, AssignmentFields{})
		r, ok := AsRefusal(err)
		require.True(t, ok)
		assert.Equal(t, RefusalState, r.Kind)
	})

	t.Run("unknown status", func(t *testing.T) {
		svc, _, _, c, admin, _ := setup(t)
		_, err := svc.TransitionComplaint(ctx, c.ID, "ARCHIVED", admin, AssignmentFields{})
		r, ok := AsRefusal(err)
		require.True(t, ok)
		assert.Equal(t, RefusalValidation, r.Kind)
	})

	t.Run("missing complaint", func(t *testing.T) {
		svc, _, _, _, admin, _ := setup(t)
		_, err := svc.TransitionComplaint(ctx, "no-such-id", models.StatusAssigned, admin, AssignmentFields{})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("nil actor", func(t *testing.T) {
		svc, _, _, c, _, _ := setup(t)
		_, err := svc.TransitionComplaint(ctx, c.ID, models.StatusAssigned, nil, AssignmentFields{})
		r, ok := AsRefusal(err)
		require.True(t, ok)
		assert.Equal(t, RefusalAuthorization, r.Kind)
	})
}

func TestReopenComplaint(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc, _ := newTestService(store)
	ward := "ward-1"
	admin := store.addUser(models.User{Email: "admin@city.gov", Role: models.RoleAdmin, Active: true})
	officer := store.addUser(models.User{Email: "officer@city.gov", Role: models.RoleWardOfficer, WardID: &ward, Active: true})
	maint := store.addUser(models.User{Email: "crew@city.gov", Role: models.RoleMaintenance, WardID: &ward, Active: true})

	c, err := svc.CreateComplaint(ctx, validInput(), nil)
	require.NoError(t, err)
	for _, step := range []models.ComplaintStatus{models.StatusAssigned, models.StatusInProgress, models.StatusResolved, models.StatusClosed} {
		assign := AssignmentFields{}
		if step == models.StatusAssigned {
			assign.MaintenanceTeamID = maint.ID
		}
		c, err = svc.TransitionComplaint(ctx, c.ID, step, admin, assign)
		require.NoError(t, err)
	}

	_, err = svc.ReopenComplaint(ctx, c.ID, officer, "")
	r, ok := AsRefusal(err)
	require.True(t, ok)
	assert.Equal(t, RefusalAuthorization, r.Kind)

	deadline := c.Deadline
	c, err = svc.ReopenComplaint(ctx, c.ID, admin, "issue recurred")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReopened, c.Status)
	assert.Nil(t, c.MaintenanceTeamID)
	assert.Nil(t, c.AssignedAt)
	assert.Nil(t, c.ResolvedAt)
	assert.Nil(t, c.ClosedAt)
	assert.Equal(t, deadline, c.Deadline)

	// The reopened complaint re-enters the assignment pipeline.
	c, err = svc.TransitionComplaint(ctx, c.ID, models.StatusAssigned, admin, AssignmentFields{MaintenanceTeamID: maint.ID})
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, c.Status)

	last := store.st.logs[len(store.st.logs)-1]
	require.NotNil(t, last.FromStatus)
	assert.Equal(t, models.StatusReopened, *last.FromStatus)
}

func TestNotificationFailureDoesNotFailOperation(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc, d := newTestService(store)
	d.fail[notify.KindStatusChange] = true

	in := validInput()
	in.ContactEmail = "ana@example.com"
	c, err := svc.CreateComplaint(ctx, in, nil)
	require.NoError(t, err, "post-commit dispatch failures are logged, not surfaced")
	assert.NotEmpty(t, c.ID)
}

func TestRefreshSla(t *testing.T) {
	c := &models.Complaint{
		Status:    models.StatusInProgress,
		Deadline:  testStart.Add(2 * time.Hour),
		SlaStatus: models.SlaOnTime, // stale stored value
	}
	RefreshSla(c, testStart.Add(3*time.Hour))
	assert.Equal(t, models.SlaOverdue, c.SlaStatus)
}

// Guards the store-contract assumption that lookups return (nil, nil) rather
// than a sentinel when nothing matches.
func TestMemStoreMissingLookups(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	c, err := store.GetComplaint(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, c)

	u, err := store.FindUserByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, u)

	if !errors.Is(store.live().MarkOTPVerified(ctx, "missing", "u", testStart), ErrNotFound) {
		t.Fatal("MarkOTPVerified on a missing session must report not found")
	}
}
