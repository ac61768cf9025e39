package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/college-events-api/internal/models"
	appErrors "github.com/noah-isme/college-events-api/pkg/errors"
)

type stubValidator struct {
	claims *models.JWTClaims
}

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return s.claims, nil
}

type recordingObserver struct {
	paths    []string
	statuses []int
}

func (r *recordingObserver) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	r.paths = append(r.paths, path)
	r.statuses = append(r.statuses, status)
}

func newProtectedRouter(role models.UserRole, caps ...models.Capability) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	claims := &models.JWTClaims{UserID: "u1", Role: role, CollegeID: "c1"}
	r.GET("/events", JWT(stubValidator{claims: claims}), RequireCapability(caps...), func(c *gin.Context) {
		got, _ := Claims(c)
		c.String(http.StatusOK, got.CollegeID)
	})
	return r
}

func TestJWTRejectsMissingAndMalformedHeaders(t *testing.T) {
	r := newProtectedRouter(models.RoleStudent, models.CapViewEvents)

	for _, header := range []string{"", "Token good", "Bearer ", "Bearer bad"} {
		req := httptest.NewRequest(http.MethodGet, "/events", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "header %q", header)
	}
}

func TestRequireCapability(t *testing.T) {
	cases := []struct {
		name string
		role models.UserRole
		caps []models.Capability
		want int
	}{
		{"student views", models.RoleStudent, []models.Capability{models.CapViewEvents}, http.StatusOK},
		{"student cannot create", models.RoleStudent, []models.Capability{models.CapCreateEvent}, http.StatusForbidden},
		{"admin manages any", models.RoleAdmin, []models.Capability{models.CapManageOwnEvent, models.CapManageAnyEvent}, http.StatusOK},
		{"teacher responds", models.RoleTeacher, []models.Capability{models.CapRespondStaff}, http.StatusOK},
		{"head cannot decide teachers", models.RoleForumHead, []models.Capability{models.CapDecideTeacher}, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newProtectedRouter(tc.role, tc.caps...)
			req := httptest.NewRequest(http.MethodGet, "/events", nil)
			req.Header.Set("Authorization", "Bearer good")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestRequireCapabilityWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", RequireCapability(models.CapViewEvents), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &recordingObserver{}
	r := gin.New()
	r.Use(Metrics(observer))
	r.GET("/events/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/42", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, []string{"/events/:id", "unmatched"}, observer.paths)
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNotFound}, observer.statuses)
}
