package utils_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edugrade-api/internal/utils"
)

type envelope struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    json.RawMessage        `json:"data"`
	Meta    *utils.PageMeta        `json:"meta"`
	Details map[string]interface{} `json:"details"`
}

func TestResponseEnvelopes(t *testing.T) {
	cases := []struct {
		name    string
		handler fiber.Handler
		status  int
		check   func(t *testing.T, body envelope)
	}{
		{
			name: "paged listing",
			handler: func(c *fiber.Ctx) error {
				return utils.OK(c, []string{"sub-1"}, "", utils.PageMeta{Page: 2, PageSize: 1, TotalItems: 3})
			},
			status: fiber.StatusOK,
			check: func(t *testing.T, body envelope) {
				require.True(t, body.Success)
				require.Equal(t, "success", body.Message)
				require.JSONEq(t, `["sub-1"]`, string(body.Data))
				require.Equal(t, &utils.PageMeta{Page: 2, PageSize: 1, TotalItems: 3}, body.Meta)
			},
		},
		{
			name: "accepted upload",
			handler: func(c *fiber.Ctx) error {
				return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "submission accepted for analysis", map[string]string{"status": "pending"})
			},
			status: fiber.StatusAccepted,
			check: func(t *testing.T, body envelope) {
				require.True(t, body.Success)
				require.JSONEq(t, `{"status":"pending"}`, string(body.Data))
				require.Nil(t, body.Meta)
			},
		},
		{
			name: "zero status falls back to ok",
			handler: func(c *fiber.Ctx) error {
				return utils.SendSuccessWithStatus(c, 0, "", nil)
			},
			status: fiber.StatusOK,
			check: func(t *testing.T, body envelope) {
				require.Equal(t, "success", body.Message)
				require.Empty(t, body.Data)
			},
		},
		{
			name: "error with field details",
			handler: func(c *fiber.Ctx) error {
				return utils.Fail(c, fiber.StatusBadRequest, "", map[string]string{"adjusted_score": "must be between 0 and 100"})
			},
			status: fiber.StatusBadRequest,
			check: func(t *testing.T, body envelope) {
				require.False(t, body.Success)
				require.Equal(t, "error", body.Message)
				require.Equal(t, "must be between 0 and 100", body.Details["adjusted_score"])
			},
		},
		{
			name: "plain error",
			handler: func(c *fiber.Ctx) error {
				return utils.SendError(c, fiber.StatusConflict, "only failed submissions can be retried")
			},
			status: fiber.StatusConflict,
			check: func(t *testing.T, body envelope) {
				require.False(t, body.Success)
				require.Equal(t, "only failed submissions can be retried", body.Message)
				require.Nil(t, body.Details)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", tc.handler)

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tc.status, resp.StatusCode)

			var body envelope
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			tc.check(t, body)
		})
	}
}
