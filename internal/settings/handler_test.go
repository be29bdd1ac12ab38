package settings_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"policyrag/internal/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockRepository is a mock implementation of settings.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Get(ctx context.Context) (*settings.Settings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settings.Settings), args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, s *settings.Settings) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

var defaults = settings.Settings{
	SimilarityThreshold: 0.7,
	OverfetchFactor:     2,
	DefaultTopK:         5,
	FactPolicy:          settings.FactPolicyAppend,
}

func TestHandler_GetSettings(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults))

		mockRepo.On("Get", mock.Anything).Return(&settings.Settings{
			GeminiAPIKey:        "secret",
			SimilarityThreshold: 0.6,
			DefaultTopK:         8,
		}, nil)

		req := httptest.NewRequest("GET", "/settings", nil)
		w := httptest.NewRecorder()

		handler.GetSettings(w, req)

		resp := w.Result()
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&body)

		data := body["data"].(map[string]interface{})
		assert.Equal(t, 0.6, data["similarity_threshold"])
		assert.Equal(t, 8.0, data["default_top_k"])
		assert.NotEqual(t, "secret", data["gemini_api_key"])

		mockRepo.AssertExpectations(t)
	})

	t.Run("InternalError", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults))

		mockRepo.On("Get", mock.Anything).Return(nil, errors.New("db error"))

		req := httptest.NewRequest("GET", "/settings", nil)
		w := httptest.NewRecorder()

		handler.GetSettings(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Result().StatusCode)
	})
}

func TestHandler_UpdateSettings(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults))

		mockRepo.On("Update", mock.Anything, mock.MatchedBy(func(s *settings.Settings) bool {
			return s.SimilarityThreshold == 0.8 && s.FactPolicy == "replace"
		})).Return(nil)

		body, _ := json.Marshal(settings.Settings{
			SimilarityThreshold: 0.8,
			OverfetchFactor:     3,
			DefaultTopK:         5,
			FactPolicy:          "replace",
		})
		req := httptest.NewRequest("PUT", "/settings", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		handler.UpdateSettings(w, req)

		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
		mockRepo.AssertExpectations(t)
	})

	t.Run("MaskedKeyKeepsStoredKey", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults))

		mockRepo.On("Get", mock.Anything).Return(&settings.Settings{GeminiAPIKey: "stored"}, nil)
		mockRepo.On("Update", mock.Anything, mock.MatchedBy(func(s *settings.Settings) bool {
			return s.GeminiAPIKey == "stored"
		})).Return(nil)

		body := `{"gemini_api_key":"********","similarity_threshold":0.7,"overfetch_factor":2,"default_top_k":5,"fact_policy":"append"}`
		req := httptest.NewRequest("PUT", "/settings", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		handler.UpdateSettings(w, req)

		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
		mockRepo.AssertExpectations(t)
	})

	t.Run("ValidationError", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults))

		req := httptest.NewRequest("PUT", "/settings", bytes.NewBufferString("invalid json"))
		w := httptest.NewRecorder()

		handler.UpdateSettings(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
	})

	t.Run("OutOfRange", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, defaults))

		body := `{"similarity_threshold":1.5,"overfetch_factor":2,"default_top_k":5,"fact_policy":"append"}`
		req := httptest.NewRequest("PUT", "/settings", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		handler.UpdateSettings(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
		mockRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})
}

func TestService_Effective(t *testing.T) {
	t.Run("StoredValuesOverride", func(t *testing.T) {
		mockRepo := new(MockRepository)
		mockRepo.On("Get", mock.Anything).Return(&settings.Settings{
			GeminiAPIKey:        "db-key",
			SimilarityThreshold: 0.5,
			FactPolicy:          "replace",
		}, nil)

		eff := settings.NewService(mockRepo, defaults).Effective(context.Background())
		assert.Equal(t, "db-key", eff.GeminiAPIKey)
		assert.Equal(t, 0.5, eff.SimilarityThreshold)
		assert.Equal(t, 2, eff.OverfetchFactor)
		assert.Equal(t, 5, eff.DefaultTopK)
		assert.Equal(t, "replace", eff.FactPolicy)
	})

	t.Run("StoreFailureServesDefaults", func(t *testing.T) {
		mockRepo := new(MockRepository)
		mockRepo.On("Get", mock.Anything).Return(nil, errors.New("db down"))

		eff := settings.NewService(mockRepo, defaults).Effective(context.Background())
		assert.Equal(t, defaults, eff)
	})
}
