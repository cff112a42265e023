package services

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/plex"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestPaymentService(t *testing.T) (*PaymentService, *gorm.DB, *fakeAccess, *fakeMirror) {
	t.Helper()
	db := newTestDB(t)
	access := newFakeAccess()
	mirror := &fakeMirror{}
	svc := NewPaymentService(db, testConfig(), access, mirror)
	svc.now = func() time.Time { return fixedNow }
	return svc, db, access, mirror
}

func paymentEvent() *dto.PaymentEvent {
	return &dto.PaymentEvent{
		EventType:       dto.EventPaymentSucceeded,
		ProviderEventID: "evt_1",
		Email:           "A@x.com",
		Amount:          9.00,
		Currency:        "USD",
		PeriodStart:     "2025-01-01",
		PeriodEnd:       "2025-02-01",
	}
}

func loadUser(t *testing.T, db *gorm.DB, email string) models.User {
	t.Helper()
	var u models.User
	require.NoError(t, db.Where("email = ?", email).First(&u).Error)
	return u
}

func TestPaymentForFreshEmail(t *testing.T) {
	svc, db, access, mirror := newTestPaymentService(t)

	res, err := svc.HandlePaymentEvent(context.Background(), paymentEvent(), []byte(`{"event_type":"payment_succeeded"}`))
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.False(t, res.Ignored)
	assert.Equal(t, "a@x.com", res.User)
	assert.True(t, res.InviteSent)

	assert.EqualValues(t, 1, countRows(t, db, &models.User{}))
	user := loadUser(t, db, "a@x.com")
	assert.Equal(t, res.UserID, user.ID)
	assert.Equal(t, models.UserStatusActive, user.Status)
	assert.Equal(t, "Standard", user.Plan)
	assert.InDelta(t, 9.00, user.MonthlyPrice, 0.001)
	assert.Equal(t, models.InviteStatusSent, user.PlexInviteStatus)
	require.NotNil(t, user.NextDueDate)
	assert.WithinDuration(t, fixedNow.Add(30*24*time.Hour), *user.NextDueDate, time.Second)
	require.NotNil(t, user.LastPaidDate)
	assert.WithinDuration(t, fixedNow, *user.LastPaidDate, time.Second)

	var payments []models.Payment
	require.NoError(t, db.Find(&payments).Error)
	require.Len(t, payments, 1)
	assert.Equal(t, "evt_1", payments[0].ProviderEventID)
	assert.Equal(t, "a@x.com-2025-01-01", payments[0].IdempotencyKey)
	assert.Equal(t, "Wave", payments[0].Provider)
	assert.Equal(t, "USD", payments[0].Currency)
	assert.JSONEq(t, `{"event_type":"payment_succeeded"}`, string(payments[0].RawPayload))

	var invites []models.Invite
	require.NoError(t, db.Find(&invites).Error)
	require.Len(t, invites, 1)
	assert.Equal(t, models.InviteStatusSent, invites[0].Status)
	assert.Equal(t, 1, invites[0].Attempts)
	assert.Equal(t, "REELSPACE", invites[0].PlexServer)

	var audits []models.AuditLog
	require.NoError(t, db.Find(&audits).Error)
	require.Len(t, audits, 1)
	assert.Equal(t, models.AuditPaymentProcessed, audits[0].Event)
	assert.Equal(t, "amount=9.00, invite=yes, duplicate=no", audits[0].Details)

	assert.Equal(t, []string{"a@x.com"}, access.invites)
	calls := mirror.callsFor("Payments")
	require.Len(t, calls, 1)
	assert.Equal(t, "a@x.com", calls[0].row[1])
	assert.Equal(t, "evt_1", calls[0].row[4])
	assert.Equal(t, "a@x.com-2025-01-01", calls[0].row[7])
}

func TestPaymentRedeliveryIsIdempotent(t *testing.T) {
	svc, db, access, mirror := newTestPaymentService(t)
	ev := paymentEvent()
	ev.ReferralCode = "REF-ABC123"

	dupBefore := testutil.ToFloat64(metrics.PaymentsRecorded.WithLabelValues("duplicate"))

	first, err := svc.HandlePaymentEvent(context.Background(), ev, nil)
	require.NoError(t, err)

	later := fixedNow.Add(time.Hour)
	svc.now = func() time.Time { return later }
	second, err := svc.HandlePaymentEvent(context.Background(), ev, nil)
	require.NoError(t, err)

	assert.True(t, second.OK)
	assert.Equal(t, first.UserID, second.UserID)
	assert.False(t, second.InviteSent)

	assert.EqualValues(t, 1, countRows(t, db, &models.Payment{}))
	assert.EqualValues(t, 1, countRows(t, db, &models.Referral{}))
	assert.EqualValues(t, 1, countRows(t, db, &models.Invite{}))
	assert.EqualValues(t, 2, countRows(t, db, &models.AuditLog{}))

	user := loadUser(t, db, "a@x.com")
	assert.InDelta(t, 2.00, user.CreditsBalance, 0.001)
	require.NotNil(t, user.NextDueDate)
	assert.WithinDuration(t, later.Add(30*24*time.Hour), *user.NextDueDate, time.Second)

	assert.Equal(t, 1, access.inviteCount())
	assert.Len(t, mirror.callsFor("Payments"), 1)
	assert.Equal(t, dupBefore+1, testutil.ToFloat64(metrics.PaymentsRecorded.WithLabelValues("duplicate")))
}

func TestPaymentWithSameIdempotencyKeyIsNoOp(t *testing.T) {
	svc, db, _, _ := newTestPaymentService(t)

	_, err := svc.HandlePaymentEvent(context.Background(), paymentEvent(), nil)
	require.NoError(t, err)

	ev := paymentEvent()
	ev.ProviderEventID = "evt_relay_retry"
	ev.PeriodStart = "2025-01-01T00:00:00Z"
	res, err := svc.HandlePaymentEvent(context.Background(), ev, nil)
	require.NoError(t, err)
	assert.True(t, res.OK)

	assert.EqualValues(t, 1, countRows(t, db, &models.Payment{}))
}

func TestIgnoredEventWritesNothing(t *testing.T) {
	svc, db, access, mirror := newTestPaymentService(t)
	ev := paymentEvent()
	ev.EventType = "refund"

	res, err := svc.HandlePaymentEvent(context.Background(), ev, nil)
	require.NoError(t, err)
	assert.Equal(t, &dto.PaymentResult{OK: true, Ignored: true}, res)

	for _, m := range []interface{}{&models.User{}, &models.Payment{}, &models.Invite{}, &models.Referral{}, &models.AuditLog{}} {
		assert.Zero(t, countRows(t, db, m))
	}
	assert.Zero(t, access.inviteCount())
	assert.Empty(t, mirror.calls)
}

func TestInvalidEventsAreRejectedWithoutSideEffects(t *testing.T) {
	cases := map[string]func(*dto.PaymentEvent){
		"missing event id": func(e *dto.PaymentEvent) { e.ProviderEventID = "" },
		"missing email":    func(e *dto.PaymentEvent) { e.Email = "" },
		"bad email":        func(e *dto.PaymentEvent) { e.Email = "nobody" },
		"missing period":   func(e *dto.PaymentEvent) { e.PeriodStart = "" },
		"bad period":       func(e *dto.PaymentEvent) { e.PeriodStart = "January" },
		"bad period end":   func(e *dto.PaymentEvent) { e.PeriodEnd = "soon" },
		"negative amount":  func(e *dto.PaymentEvent) { e.Amount = -1 },
		"NaN amount":       func(e *dto.PaymentEvent) { e.Amount = dto.Amount(math.NaN()) },
		"infinite amount":  func(e *dto.PaymentEvent) { e.Amount = dto.Amount(math.Inf(1)) },
		"overflow amount":  func(e *dto.PaymentEvent) { e.Amount = 1e20 },
		"boundary amount":  func(e *dto.PaymentEvent) { e.Amount = 1e8 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			svc, db, _, _ := newTestPaymentService(t)
			ev := paymentEvent()
			mutate(ev)

			_, err := svc.HandlePaymentEvent(context.Background(), ev, nil)
			assert.ErrorIs(t, err, ErrInvalidEvent)
			assert.Zero(t, countRows(t, db, &models.User{}))
			assert.Zero(t, countRows(t, db, &models.Payment{}))
		})
	}
}

func TestReferralCreditedOncePerCodeAndEmail(t *testing.T) {
	svc, db, _, _ := newTestPaymentService(t)
	creditsBefore := testutil.ToFloat64(metrics.ReferralCredits)

	first := paymentEvent()
	first.ReferralCode = "REF-ABC123"
	_, err := svc.HandlePaymentEvent(context.Background(), first, nil)
	require.NoError(t, err)

	renewal := paymentEvent()
	renewal.ProviderEventID = "evt_2"
	renewal.PeriodStart = "2025-02-01"
	renewal.PeriodEnd = "2025-03-01"
	renewal.ReferralCode = "REF-ABC123"
	_, err = svc.HandlePaymentEvent(context.Background(), renewal, nil)
	require.NoError(t, err)

	assert.EqualValues(t, 2, countRows(t, db, &models.Payment{}))
	assert.EqualValues(t, 1, countRows(t, db, &models.Referral{}))
	user := loadUser(t, db, "a@x.com")
	assert.InDelta(t, 2.00, user.CreditsBalance, 0.001)
	assert.Equal(t, creditsBefore+1, testutil.ToFloat64(metrics.ReferralCredits))

	var ref models.Referral
	require.NoError(t, db.First(&ref).Error)
	assert.Equal(t, "REF-ABC123", ref.Code)
	assert.Equal(t, "a@x.com", ref.ReferredEmail)
	assert.Equal(t, models.ReferralCredited, ref.CreditStatus)
	assert.InDelta(t, 2.00, ref.CreditedAmount, 0.001)
}

func TestConcurrentDuplicateDeliveries(t *testing.T) {
	svc, db, access, _ := newTestPaymentService(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := paymentEvent()
			ev.ReferralCode = "REF-ABC123"
			if i%2 == 1 {
				ev.ProviderEventID = "evt_2"
				ev.PeriodStart = "2025-02-01"
			}
			_, err := svc.HandlePaymentEvent(context.Background(), ev, nil)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.EqualValues(t, 1, countRows(t, db, &models.User{}))
	assert.EqualValues(t, 2, countRows(t, db, &models.Payment{}))
	assert.EqualValues(t, 1, countRows(t, db, &models.Referral{}))
	assert.EqualValues(t, 1, countRows(t, db, &models.Invite{}))
	assert.Equal(t, 1, access.inviteCount())

	user := loadUser(t, db, "a@x.com")
	assert.InDelta(t, 2.00, user.CreditsBalance, 0.001)
}

func TestGrantedStatusSkipsInvite(t *testing.T) {
	for _, status := range []models.InviteStatus{
		models.InviteStatusSent,
		models.InviteStatusAlreadyShared,
		models.InviteStatusAlreadyInvited,
		models.InviteStatusAccepted,
	} {
		t.Run(string(status), func(t *testing.T) {
			svc, db, access, _ := newTestPaymentService(t)
			require.NoError(t, db.Create(&models.User{
				ID: "u_existing", Email: "a@x.com", JoinDate: fixedNow, PlexInviteStatus: status,
			}).Error)

			res, err := svc.HandlePaymentEvent(context.Background(), paymentEvent(), nil)
			require.NoError(t, err)
			assert.False(t, res.InviteSent)
			assert.Zero(t, access.inviteCount())
			assert.Zero(t, countRows(t, db, &models.Invite{}))
			assert.Equal(t, status, loadUser(t, db, "a@x.com").PlexInviteStatus)
		})
	}
}

func TestAccessGrantFailureIsRecordedNotFatal(t *testing.T) {
	svc, db, access, mirror := newTestPaymentService(t)
	access.inviteErr = errPlexDown

	res, err := svc.HandlePaymentEvent(context.Background(), paymentEvent(), nil)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.True(t, res.InviteSent)

	assert.EqualValues(t, 1, countRows(t, db, &models.Payment{}))
	assert.EqualValues(t, 1, countRows(t, db, &models.AuditLog{}))
	assert.Len(t, mirror.callsFor("Payments"), 1)

	var inv models.Invite
	require.NoError(t, db.First(&inv).Error)
	assert.Equal(t, models.InviteStatusError, inv.Status)
	assert.Equal(t, errPlexDown.Error(), inv.ErrorMessage)
	assert.Equal(t, 1, inv.Attempts)
	assert.Equal(t, models.InviteStatusError, loadUser(t, db, "a@x.com").PlexInviteStatus)

	// The next payment retries the invite because error is not a granted state.
	access.inviteErr = nil
	ev := paymentEvent()
	ev.ProviderEventID = "evt_2"
	ev.PeriodStart = "2025-02-01"
	res, err = svc.HandlePaymentEvent(context.Background(), ev, nil)
	require.NoError(t, err)
	assert.True(t, res.InviteSent)
	assert.Equal(t, models.InviteStatusSent, loadUser(t, db, "a@x.com").PlexInviteStatus)
	assert.EqualValues(t, 2, countRows(t, db, &models.Invite{}))
}

func TestAccessGrantOutcomesAreRecorded(t *testing.T) {
	cases := map[plex.Outcome]models.InviteStatus{
		plex.OutcomeAlreadyShared:  models.InviteStatusAlreadyShared,
		plex.OutcomeAlreadyInvited: models.InviteStatusAlreadyInvited,
		plex.Outcome(99):           models.InviteStatusError,
	}
	for outcome, want := range cases {
		t.Run(outcome.String(), func(t *testing.T) {
			svc, db, access, _ := newTestPaymentService(t)
			access.outcome = outcome

			_, err := svc.HandlePaymentEvent(context.Background(), paymentEvent(), nil)
			require.NoError(t, err)

			var inv models.Invite
			require.NoError(t, db.First(&inv).Error)
			assert.Equal(t, want, inv.Status)
			assert.Equal(t, want, loadUser(t, db, "a@x.com").PlexInviteStatus)
		})
	}
}

func TestMissingAccessCapabilityRecordsError(t *testing.T) {
	db := newTestDB(t)
	svc := NewPaymentService(db, testConfig(), nil, nil)
	svc.now = func() time.Time { return fixedNow }

	res, err := svc.HandlePaymentEvent(context.Background(), paymentEvent(), nil)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, models.InviteStatusError, loadUser(t, db, "a@x.com").PlexInviteStatus)
}

func TestMirrorFailureIsSuppressed(t *testing.T) {
	svc, db, _, mirror := newTestPaymentService(t)
	mirror.err = errors.New("sheets quota exceeded")
	before := testutil.ToFloat64(metrics.MirrorFailures.WithLabelValues("Payments"))

	res, err := svc.HandlePaymentEvent(context.Background(), paymentEvent(), nil)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.EqualValues(t, 1, countRows(t, db, &models.Payment{}))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.MirrorFailures.WithLabelValues("Payments")))
}

func TestExistingUserIsNotOverwritten(t *testing.T) {
	svc, db, _, _ := newTestPaymentService(t)
	joined := fixedNow.AddDate(-1, 0, 0)
	require.NoError(t, db.Create(&models.User{
		ID:               "u_original",
		Email:            "a@x.com",
		FullName:         "Original Name",
		JoinDate:         joined,
		Plan:             "Legacy",
		MonthlyPrice:     7,
		PlexInviteStatus: models.InviteStatusAccepted,
	}).Error)

	ev := paymentEvent()
	ev.FullName = "Someone Else"
	res, err := svc.HandlePaymentEvent(context.Background(), ev, nil)
	require.NoError(t, err)
	assert.Equal(t, "u_original", res.UserID)

	user := loadUser(t, db, "a@x.com")
	assert.Equal(t, "Original Name", user.FullName)
	assert.Equal(t, "Legacy", user.Plan)
	assert.InDelta(t, 7.0, user.MonthlyPrice, 0.001)
	assert.WithinDuration(t, joined, user.JoinDate, time.Second)
}

func TestStorageFailureRollsBackTheUnitOfWork(t *testing.T) {
	svc, db, _, mirror := newTestPaymentService(t)
	require.NoError(t, db.Migrator().DropTable(&models.AuditLog{}))

	_, err := svc.HandlePaymentEvent(context.Background(), paymentEvent(), nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidEvent)

	assert.Zero(t, countRows(t, db, &models.User{}))
	assert.Zero(t, countRows(t, db, &models.Payment{}))
	assert.Zero(t, countRows(t, db, &models.Invite{}))
	assert.Empty(t, mirror.calls)
}

func TestParseDate(t *testing.T) {
	d, err := parseDate("2025-01-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), d)

	d, err = parseDate("2025-01-01T23:30:00-02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), d)

	_, err = parseDate("")
	assert.Error(t, err)
}

// seedReferralBeforeInsert commits a referral for (code, email) on the same
// transaction just before the service's own referral insert, reproducing a
// concurrent delivery that won the race after the existence check.
func seedReferralBeforeInsert(t *testing.T, db *gorm.DB, code, email string) *int {
	t.Helper()
	seeded := 0
	err := db.Callback().Create().Before("gorm:create").Register("test:seed_referral", func(tx *gorm.DB) {
		if tx.Statement.Table != "referrals" || seeded > 0 {
			return
		}
		seeded++
		err := tx.Session(&gorm.Session{NewDB: true}).Exec(
			"INSERT INTO referrals (code, referred_email, credited_amount, credit_status, credited_at, note) VALUES (?, ?, ?, ?, ?, ?)",
			code, email, 2.00, models.ReferralCredited, fixedNow, "concurrent delivery",
		).Error
		require.NoError(t, err)
	})
	require.NoError(t, err)
	return &seeded
}

func TestReferralInsertConflictDoesNotCredit(t *testing.T) {
	svc, db, _, _ := newTestPaymentService(t)
	seeded := seedReferralBeforeInsert(t, db, "REF-RACE", "a@x.com")
	creditsBefore := testutil.ToFloat64(metrics.ReferralCredits)

	ev := paymentEvent()
	ev.ReferralCode = "REF-RACE"
	res, err := svc.HandlePaymentEvent(context.Background(), ev, nil)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 1, *seeded)

	var refs []models.Referral
	require.NoError(t, db.Find(&refs).Error)
	require.Len(t, refs, 1)
	assert.Equal(t, "concurrent delivery", refs[0].Note)

	assert.InDelta(t, 0.0, loadUser(t, db, "a@x.com").CreditsBalance, 0.001)
	assert.Equal(t, creditsBefore, testutil.ToFloat64(metrics.ReferralCredits))
	assert.EqualValues(t, 1, countRows(t, db, &models.Payment{}))
}

func TestCreditReferralReportsLostRace(t *testing.T) {
	svc, db, _, _ := newTestPaymentService(t)
	user := models.User{ID: "u_race", Email: "a@x.com", JoinDate: fixedNow}
	require.NoError(t, db.Create(&user).Error)
	seedReferralBeforeInsert(t, db, "REF-RACE", "a@x.com")

	var credited bool
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		credited, err = svc.creditReferral(tx, &user, "REF-RACE", fixedNow)
		return err
	})
	require.NoError(t, err)
	assert.False(t, credited)
	assert.InDelta(t, 0.0, user.CreditsBalance, 0.001)
	assert.InDelta(t, 0.0, loadUser(t, db, "a@x.com").CreditsBalance, 0.001)
}
