package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"marketfront/internal/types"
)

type mockSlotOperator struct {
	mock.Mock
}

func (m *mockSlotOperator) Drain(ctx context.Context, family types.SlotFamily) error {
	args := m.Called(ctx, family)
	return args.Error(0)
}

func (m *mockSlotOperator) Deactivate(ctx context.Context, slotID string) error {
	args := m.Called(ctx, slotID)
	return args.Error(0)
}

const testAdminKey = "admin-key-test"

func newOpsRouter(slots *mockSlotOperator) *chi.Mux {
	router := chi.NewRouter()
	NewOpsHandler(slots, testAdminKey, nil).RegisterRoutes(router)
	return router
}

func opsRequest(t *testing.T, router *chi.Mux, path, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if key != "" {
		req.Header.Set("X-Admin-Key", key)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestOps_MissingAdminKey(t *testing.T) {
	slots := new(mockSlotOperator)
	router := newOpsRouter(slots)

	rec := opsRequest(t, router, "/ops/promo/drain", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeAuthKeyMissing))
	slots.AssertNotCalled(t, "Drain", mock.Anything, mock.Anything)
}

func TestOps_WrongAdminKey(t *testing.T) {
	slots := new(mockSlotOperator)
	router := newOpsRouter(slots)

	rec := opsRequest(t, router, "/ops/promo/drain", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeAuthKeyInvalid))
}

func TestOps_DrainBothFamiliesByDefault(t *testing.T) {
	slots := new(mockSlotOperator)
	router := newOpsRouter(slots)

	slots.On("Drain", mock.Anything, types.SlotFamilyBanner).Return(nil).Once()
	slots.On("Drain", mock.Anything, types.SlotFamilyPromotion).Return(nil).Once()

	rec := opsRequest(t, router, "/ops/promo/drain", testAdminKey)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"banner"`)
	assert.Contains(t, rec.Body.String(), `"promotion"`)
	slots.AssertExpectations(t)
}

func TestOps_DrainSingleFamily(t *testing.T) {
	slots := new(mockSlotOperator)
	router := newOpsRouter(slots)

	slots.On("Drain", mock.Anything, types.SlotFamilyBanner).Return(nil).Once()

	rec := opsRequest(t, router, "/ops/promo/drain?family=banner", testAdminKey)
	assert.Equal(t, http.StatusOK, rec.Code)
	slots.AssertNotCalled(t, "Drain", mock.Anything, types.SlotFamilyPromotion)
}

func TestOps_DrainRejectsUnknownFamily(t *testing.T) {
	slots := new(mockSlotOperator)
	router := newOpsRouter(slots)

	rec := opsRequest(t, router, "/ops/promo/drain?family=sidebar", testAdminKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	slots.AssertNotCalled(t, "Drain", mock.Anything, mock.Anything)
}

func TestOps_DeactivateSlot(t *testing.T) {
	slots := new(mockSlotOperator)
	router := newOpsRouter(slots)

	slots.On("Deactivate", mock.Anything, "slot_1").Return(nil).Once()

	rec := opsRequest(t, router, "/ops/promo/slots/slot_1/deactivate", testAdminKey)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deactivated"`)
	slots.AssertExpectations(t)
}

func TestOps_DeactivateSurfacesConflict(t *testing.T) {
	slots := new(mockSlotOperator)
	router := newOpsRouter(slots)

	slots.On("Deactivate", mock.Anything, "slot_1").
		Return(types.NewAppError(types.ErrCodeConflictSlotState, "slot is not active", nil))

	rec := opsRequest(t, router, "/ops/promo/slots/slot_1/deactivate", testAdminKey)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeConflictSlotState))
}
