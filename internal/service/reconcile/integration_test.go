package reconcile_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kobiri-app/kobiri-backend/internal/config"
	"github.com/kobiri-app/kobiri-backend/internal/domain"
	"github.com/kobiri-app/kobiri-backend/internal/gateway"
	"github.com/kobiri-app/kobiri-backend/internal/notify"
	"github.com/kobiri-app/kobiri-backend/internal/repository"
	"github.com/kobiri-app/kobiri-backend/internal/service/reconcile"
	"github.com/kobiri-app/kobiri-backend/internal/testutil"
)

func setupReconciler(t *testing.T, db *sql.DB, gatewayBaseURL string) *reconcile.Service {
	t.Helper()
	cfg := &config.Config{
		Currency:             "XOF",
		OverCollectTolerance: 0,
		GatewayBaseURL:       gatewayBaseURL,
		GatewayCallbackURL:   "http://app.test/api/v1/callbacks",
	}
	return reconcile.NewService(
		repository.NewPaymentRepository(db),
		repository.NewPaymentEventRepository(db),
		repository.NewLedgerRepository(db),
		repository.NewSessionRepository(db),
		repository.NewMemberRepository(db),
		repository.NewTontineRepository(db),
		gateway.NewRegistry(
			gateway.NewWaveAdapter(gatewayBaseURL, "wave-secret"),
			gateway.NewOrangeAdapter(gatewayBaseURL, "orange-secret"),
		),
		db,
		cfg,
		notify.Noop{},
	)
}

type worldState struct {
	tontine *domain.Tontine
	session *domain.Session
	member  *domain.Member
	manager *domain.User
}

func seedWorld(t *testing.T, db *sql.DB, contribution int64) worldState {
	t.Helper()
	manager := testutil.SeedUser(t, db, "+221770000001", "Awa", domain.RoleManager)
	user := testutil.SeedUser(t, db, "+221770000002", "Moussa", domain.RoleMember)
	tn := testutil.SeedTontine(t, db, manager.ID, contribution)
	m := testutil.SeedMember(t, db, tn.ID, user.ID, "Moussa", time.Now().UTC())
	sess := testutil.SeedOpenSession(t, db, tn.ID, 1, contribution)
	return worldState{tontine: tn, session: sess, member: m, manager: manager}
}

func TestRecordManual_TwoPartialPaymentsMeetObligation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupReconciler(t, db, "http://unused.test")
	ctx := context.Background()
	w := seedWorld(t, db, 50000)

	var payments []*domain.Payment
	for range 2 {
		p, err := svc.RecordManual(ctx, reconcile.RecordManualRequest{
			SessionID:      w.session.ID,
			MemberID:       w.member.ID,
			Amount:         25000,
			IdempotencyKey: uuid.NewString(),
		})
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPending, p.Status)

		confirmed, err := svc.Validate(ctx, p.ID, reconcile.DecisionApprove, w.manager.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusConfirmed, confirmed.Status)
		payments = append(payments, confirmed)
	}

	assert.Equal(t, int64(50000), testutil.SessionBalance(t, db, w.session.ID))
	for _, p := range payments {
		assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, p.ID))
	}
}

func TestRecordManual_ReplayedIdempotencyKeyReturnsOriginal(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupReconciler(t, db, "http://unused.test")
	ctx := context.Background()
	w := seedWorld(t, db, 50000)

	key := uuid.NewString()
	first, err := svc.RecordManual(ctx, reconcile.RecordManualRequest{
		SessionID:      w.session.ID,
		MemberID:       w.member.ID,
		Amount:         25000,
		IdempotencyKey: key,
	})
	require.NoError(t, err)

	second, err := svc.RecordManual(ctx, reconcile.RecordManualRequest{
		SessionID:      w.session.ID,
		MemberID:       w.member.ID,
		Amount:         25000,
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM payments`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestValidate_RejectPostsNothing(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupReconciler(t, db, "http://unused.test")
	ctx := context.Background()
	w := seedWorld(t, db, 50000)

	p, err := svc.RecordManual(ctx, reconcile.RecordManualRequest{
		SessionID:      w.session.ID,
		MemberID:       w.member.ID,
		Amount:         50000,
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)

	rejected, err := svc.Validate(ctx, p.ID, reconcile.DecisionReject, w.manager.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRejected, rejected.Status)
	assert.Equal(t, 0, testutil.CountLedgerEntries(t, db, p.ID))
	assert.Equal(t, int64(0), testutil.SessionBalance(t, db, w.session.ID))

	// A second verdict reports the existing state instead of flipping it.
	again, err := svc.Validate(ctx, p.ID, reconcile.DecisionApprove, w.manager.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyTerminal)
	assert.Equal(t, domain.PaymentStatusRejected, again.Status)
}

func TestRecordManual_OverCollectionRejected(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupReconciler(t, db, "http://unused.test")
	ctx := context.Background()
	w := seedWorld(t, db, 50000)

	_, err := svc.RecordManual(ctx, reconcile.RecordManualRequest{
		SessionID:      w.session.ID,
		MemberID:       w.member.ID,
		Amount:         50000,
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)

	// The first attempt is still pending but already reserves the cap.
	_, err = svc.RecordManual(ctx, reconcile.RecordManualRequest{
		SessionID:      w.session.ID,
		MemberID:       w.member.ID,
		Amount:         1000,
		IdempotencyKey: uuid.NewString(),
	})
	assert.ErrorIs(t, err, domain.ErrOverCollection)
}

func seedManualPayment(t *testing.T, db *sql.DB, w worldState, amount int64) *domain.Payment {
	t.Helper()

	payments := repository.NewPaymentRepository(db)
	now := time.Now().UTC()
	p := &domain.Payment{
		ID:             uuid.New(),
		SessionID:      w.session.ID,
		MemberID:       w.member.ID,
		TontineID:      w.tontine.ID,
		Amount:         amount,
		Method:         domain.PaymentMethodManual,
		Status:         domain.PaymentStatusPending,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, payments.Create(context.Background(), tx, p))
	require.NoError(t, tx.Commit())
	return p
}

func TestValidate_SecondFullPaymentCappedAtConfirm(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupReconciler(t, db, "http://unused.test")
	ctx := context.Background()
	w := seedWorld(t, db, 50000)

	// Two intakes racing for the same obligation can both get past the
	// early guard before either row commits; seed that state directly.
	a := seedManualPayment(t, db, w, 50000)
	b := seedManualPayment(t, db, w, 50000)

	confirmed, err := svc.Validate(ctx, a.ID, reconcile.DecisionApprove, w.manager.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusConfirmed, confirmed.Status)

	// The confirm-time re-check under the session lock stops the second
	// approval; the payment stays pending so the manager can reject it.
	_, err = svc.Validate(ctx, b.ID, reconcile.DecisionApprove, w.manager.ID)
	require.ErrorIs(t, err, domain.ErrOverCollection)
	assert.Equal(t, 0, testutil.CountLedgerEntries(t, db, b.ID))
	assert.Equal(t, int64(50000), testutil.SessionBalance(t, db, w.session.ID))

	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM payments WHERE id = $1`, b.ID).Scan(&status))
	assert.Equal(t, "pending", status)

	rejected, err := svc.Validate(ctx, b.ID, reconcile.DecisionReject, w.manager.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRejected, rejected.Status)
}

func TestValidate_ConcurrentFullApprovalsPostOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupReconciler(t, db, "http://unused.test")
	w := seedWorld(t, db, 50000)

	a := seedManualPayment(t, db, w, 50000)
	b := seedManualPayment(t, db, w, 50000)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, p := range []*domain.Payment{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Validate(context.Background(), p.ID, reconcile.DecisionApprove, w.manager.ID)
		}()
	}
	wg.Wait()

	capped := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrOverCollection)
			capped++
		}
	}
	assert.Equal(t, 1, capped)
	assert.Equal(t, int64(50000), testutil.SessionBalance(t, db, w.session.ID))

	var confirmedCount int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM payments WHERE status = 'confirmed'`).Scan(&confirmedCount))
	assert.Equal(t, 1, confirmedCount)
}

func TestInitiateGateway_WaveHappyPath(t *testing.T) {
	db := testutil.SetupTestDB(t)

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/wave/checkout/sessions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(map[string]string{
			"id":              "cos-123",
			"wave_launch_url": "https://pay.wave.test/cos-123",
		})
		require.NoError(t, err)
	}))
	defer provider.Close()

	svc := setupReconciler(t, db, provider.URL)
	ctx := context.Background()
	w := seedWorld(t, db, 50000)

	result, err := svc.InitiateGateway(ctx, reconcile.InitiateRequest{
		SessionID:   w.session.ID,
		MemberID:    w.member.ID,
		Amount:      50000,
		Method:      domain.PaymentMethodWave,
		PhoneNumber: "+221770000002",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, result.Payment.Status)
	assert.Equal(t, "https://pay.wave.test/cos-123", result.PaymentURL)
	require.NotNil(t, result.Payment.ExternalRef)
}

func TestInitiateGateway_ProviderDownFailsPayment(t *testing.T) {
	db := testutil.SetupTestDB(t)

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer provider.Close()

	svc := setupReconciler(t, db, provider.URL)
	ctx := context.Background()
	w := seedWorld(t, db, 50000)

	_, err := svc.InitiateGateway(ctx, reconcile.InitiateRequest{
		SessionID:   w.session.ID,
		MemberID:    w.member.ID,
		Amount:      50000,
		Method:      domain.PaymentMethodWave,
		PhoneNumber: "+221770000002",
	})
	require.Error(t, err)

	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM payments`).Scan(&status))
	assert.Equal(t, "failed", status)
}

func seedGatewayPayment(t *testing.T, db *sql.DB, w worldState, amount int64, externalRef string) *domain.Payment {
	t.Helper()

	payments := repository.NewPaymentRepository(db)
	now := time.Now().UTC()
	p := &domain.Payment{
		ID:             uuid.New(),
		SessionID:      w.session.ID,
		MemberID:       w.member.ID,
		TontineID:      w.tontine.ID,
		Amount:         amount,
		Method:         domain.PaymentMethodWave,
		Status:         domain.PaymentStatusPending,
		IdempotencyKey: uuid.NewString(),
		ExternalRef:    &externalRef,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, payments.Create(context.Background(), tx, p))
	require.NoError(t, tx.Commit())
	return p
}

func TestHandleCallback_SuccessThenReplay(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupReconciler(t, db, "http://unused.test")
	ctx := context.Background()
	w := seedWorld(t, db, 50000)
	p := seedGatewayPayment(t, db, w, 50000, "ref-replay")

	cb := &gateway.Callback{ExternalRef: "ref-replay", Amount: 50000, Outcome: gateway.OutcomeSuccess}

	confirmed, err := svc.HandleCallback(ctx, domain.PaymentMethodWave, cb)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusConfirmed, confirmed.Status)
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, p.ID))

	// Redelivery is a no-op: same terminal state, still one ledger entry.
	replayed, err := svc.HandleCallback(ctx, domain.PaymentMethodWave, cb)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusConfirmed, replayed.Status)
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, p.ID))
	assert.Equal(t, int64(50000), testutil.SessionBalance(t, db, w.session.ID))
}

func TestHandleCallback_ConcurrentDuplicates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupReconciler(t, db, "http://unused.test")
	w := seedWorld(t, db, 50000)
	p := seedGatewayPayment(t, db, w, 50000, "ref-concurrent")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.HandleCallback(context.Background(), domain.PaymentMethodWave, &gateway.Callback{
				ExternalRef: "ref-concurrent",
				Amount:      50000,
				Outcome:     gateway.OutcomeSuccess,
			})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, p.ID))
	assert.Equal(t, int64(50000), testutil.SessionBalance(t, db, w.session.ID))
}

func TestHandleCallback_AmountMismatchFailsPayment(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupReconciler(t, db, "http://unused.test")
	ctx := context.Background()
	w := seedWorld(t, db, 50000)
	p := seedGatewayPayment(t, db, w, 50000, "ref-mismatch")

	_, err := svc.HandleCallback(ctx, domain.PaymentMethodWave, &gateway.Callback{
		ExternalRef: "ref-mismatch",
		Amount:      45000,
		Outcome:     gateway.OutcomeSuccess,
	})
	require.ErrorIs(t, err, domain.ErrAmountMismatch)

	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM payments WHERE id = $1`, p.ID).Scan(&status))
	assert.Equal(t, "failed", status)
	assert.Equal(t, 0, testutil.CountLedgerEntries(t, db, p.ID))
}

func TestHandleCallback_FailureOutcome(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupReconciler(t, db, "http://unused.test")
	ctx := context.Background()
	w := seedWorld(t, db, 50000)
	p := seedGatewayPayment(t, db, w, 50000, "ref-failed")

	failed, err := svc.HandleCallback(ctx, domain.PaymentMethodWave, &gateway.Callback{
		ExternalRef: "ref-failed",
		Amount:      50000,
		Outcome:     gateway.OutcomeFailure,
		Reason:      "payer cancelled",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, failed.Status)
	require.NotNil(t, failed.FailureReason)
	assert.Equal(t, "payer cancelled", *failed.FailureReason)
	assert.Equal(t, 0, testutil.CountLedgerEntries(t, db, p.ID))
}

func TestHandleCallback_ConcurrentFailureDuplicates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupReconciler(t, db, "http://unused.test")
	w := seedWorld(t, db, 50000)
	p := seedGatewayPayment(t, db, w, 50000, "ref-fail-concurrent")

	// Redelivered failure notifications must all come back clean, even
	// the ones that lose the race to resolve the payment.
	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.HandleCallback(context.Background(), domain.PaymentMethodWave, &gateway.Callback{
				ExternalRef: "ref-fail-concurrent",
				Amount:      50000,
				Outcome:     gateway.OutcomeFailure,
				Reason:      "payer cancelled",
			})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}

	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM payments WHERE id = $1`, p.ID).Scan(&status))
	assert.Equal(t, "failed", status)
	assert.Equal(t, 0, testutil.CountLedgerEntries(t, db, p.ID))
}

func TestHandleCallback_SecondFullCollectionFailsPayment(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupReconciler(t, db, "http://unused.test")
	ctx := context.Background()
	w := seedWorld(t, db, 50000)
	a := seedGatewayPayment(t, db, w, 50000, "ref-room-1")
	b := seedGatewayPayment(t, db, w, 50000, "ref-room-2")

	confirmed, err := svc.HandleCallback(ctx, domain.PaymentMethodWave, &gateway.Callback{
		ExternalRef: "ref-room-1", Amount: 50000, Outcome: gateway.OutcomeSuccess,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusConfirmed, confirmed.Status)

	// The provider collected money there is no room for in the session;
	// the payment fails instead of overshooting the obligation.
	_, err = svc.HandleCallback(ctx, domain.PaymentMethodWave, &gateway.Callback{
		ExternalRef: "ref-room-2", Amount: 50000, Outcome: gateway.OutcomeSuccess,
	})
	require.ErrorIs(t, err, domain.ErrOverCollection)

	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM payments WHERE id = $1`, b.ID).Scan(&status))
	assert.Equal(t, "failed", status)
	assert.Equal(t, 0, testutil.CountLedgerEntries(t, db, b.ID))
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, a.ID))
	assert.Equal(t, int64(50000), testutil.SessionBalance(t, db, w.session.ID))
}

func TestHandleCallback_UnknownReference(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupReconciler(t, db, "http://unused.test")
	seedWorld(t, db, 50000)

	_, err := svc.HandleCallback(context.Background(), domain.PaymentMethodWave, &gateway.Callback{
		ExternalRef: "never-issued",
		Amount:      50000,
		Outcome:     gateway.OutcomeSuccess,
	})
	assert.ErrorIs(t, err, domain.ErrUnknownReference)
}
