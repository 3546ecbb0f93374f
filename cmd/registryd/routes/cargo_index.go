package routes

import (
	"bytes"
	"net/http"

	"github.com/cargoforge/registry/internal/index"
	"github.com/gin-gonic/gin"
)

// RegisterCargoIndex mounts the index's sparse-HTTP and Git-smart-HTTP
// surfaces (spec §4.3, §6). Both read directly from idx; neither ever
// authenticates, since the index has no write path reachable from HTTP
// (only the facade's Publish/Yank mutate it).
func RegisterCargoIndex(router gin.IRouter, idx *index.Index, allowSparse, allowGit bool) {
	router.GET("/config.json", handleConfigJSON(idx))
	if allowGit {
		router.GET("/info/refs", handleInfoRefs(idx))
		router.POST("/git-upload-pack", handleUploadPack(idx))
	}
	router.NoRoute(handleSparseFile(idx, allowSparse))
}

func handleConfigJSON(idx *index.Index) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := idx.ConfigJSON()
		if err != nil {
			c.Status(http.StatusNotFound)
			return
		}
		c.Data(http.StatusOK, "application/json", data)
	}
}

func handleInfoRefs(idx *index.Index) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Query("service") != "git-upload-pack" {
			c.Status(http.StatusForbidden)
			return
		}
		body, err := idx.AdvertiseUploadPack(c.Request.Context())
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Data(http.StatusOK, "application/x-git-upload-pack-advertisement", body)
	}
}

func handleUploadPack(idx *index.Index) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := idx.UploadPack(c.Request.Context(), c.Request.Body)
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Data(http.StatusOK, "application/x-git-upload-pack-result", body)
	}
}

// handleSparseFile serves any other path as a raw index file (spec §4.3
// sparse protocol): content-type negotiated by extension/position, 404 if
// absent, 403 if the sparse protocol is disabled for non-config paths.
func handleSparseFile(idx *index.Index, allowSparse bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		relPath := bytes.TrimPrefix([]byte(c.Request.URL.Path), []byte("/"))
		path := string(relPath)

		if !index.AllowedForSparse(path, allowSparse) {
			c.Status(http.StatusForbidden)
			return
		}

		data, found, err := idx.ReadFile(path)
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		if !found {
			c.Status(http.StatusNotFound)
			return
		}

		c.Data(http.StatusOK, index.ContentTypeFor(path), data)
	}
}
