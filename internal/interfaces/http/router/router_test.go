package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(engine *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestNewRouter(t *testing.T) {
	r := NewRouter(gin.New())
	assert.Equal(t, "v1", r.apiVersion)
	assert.Empty(t, r.registrars)

	r = NewRouter(gin.New(), WithAPIVersion("v2"))
	assert.Equal(t, "v2", r.apiVersion)
}

func TestRouterSetup(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine, WithAPIVersion("v2"))

	ledger := NewDomainGroup("ledger", "/ledger")
	ledger.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	other := NewDomainGroup("other", "")
	other.DELETE("/items/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.Register(ledger).Register(other)
	assert.Len(t, r.registrars, 2)
	r.Setup()

	w := serve(engine, http.MethodGet, "/api/v2/ledger/ping")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())

	assert.Equal(t, http.StatusNoContent, serve(engine, http.MethodDelete, "/api/v2/items/7").Code)
	assert.Equal(t, http.StatusNotFound, serve(engine, http.MethodGet, "/api/v1/ledger/ping").Code)
}

func TestDomainGroup(t *testing.T) {
	t.Run("name and prefix", func(t *testing.T) {
		g := NewDomainGroup("maintenance", "/maintenance")
		assert.Equal(t, "maintenance", g.Name())
		assert.Equal(t, "/maintenance", g.Prefix())
	})

	t.Run("lists its routes", func(t *testing.T) {
		ok := func(c *gin.Context) {}
		g := NewDomainGroup("admin", "/maintenance").
			POST("/rebuild", ok).
			GET("/orphans", ok).
			PUT("/products/:id", ok).
			DELETE("/documents/:id", ok)

		assert.Equal(t, []string{
			"POST /maintenance/rebuild",
			"GET /maintenance/orphans",
			"PUT /maintenance/products/:id",
			"DELETE /maintenance/documents/:id",
		}, g.Routes())
	})

	t.Run("middleware runs before every route", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("test", "/test")
		g.Use(func(c *gin.Context) {
			c.Header("X-Test-Middleware", "applied")
			c.Next()
		})
		g.GET("/items", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
		g.RegisterRoutes(engine.Group("/api/v1"))

		w := serve(engine, http.MethodGet, "/api/v1/test/items")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "applied", w.Header().Get("X-Test-Middleware"))
	})

	t.Run("aborting middleware stops the route", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("guarded", "").
			Use(func(c *gin.Context) { c.AbortWithStatus(http.StatusForbidden) })
		g.POST("/items", func(c *gin.Context) { c.Status(http.StatusCreated) })
		g.RegisterRoutes(engine.Group("/api/v1"))

		assert.Equal(t, http.StatusForbidden, serve(engine, http.MethodPost, "/api/v1/items").Code)
	})

	t.Run("subgroups nest under the parent prefix", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("ledger", "/ledger")
		g.Group("products", "/products").GET("", func(c *gin.Context) { c.String(http.StatusOK, "products") })
		g.Group("batches", "/batches").GET("/:id", func(c *gin.Context) { c.String(http.StatusOK, c.Param("id")) })
		g.RegisterRoutes(engine.Group("/api/v1"))

		w := serve(engine, http.MethodGet, "/api/v1/ledger/products")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "products", w.Body.String())

		w = serve(engine, http.MethodGet, "/api/v1/ledger/batches/b-1")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "b-1", w.Body.String())
	})
}
