// Package routes wires the registry facade and index onto gin, one file
// per protocol family (spec §6): the cargo API surface here, the index's
// sparse/Git-smart-HTTP surface in cargo_index.go.
package routes

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/cargoforge/registry/internal/apierror"
	"github.com/cargoforge/registry/internal/registry"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RegisterCargoAPI mounts the `/api/v1/crates` surface (spec §6).
func RegisterCargoAPI(router gin.IRouter, facade *registry.Facade) {
	crates := router.Group("/api/v1/crates")
	crates.PUT("/new", handlePublish(facade))
	crates.GET("", handleSearch(facade))
	crates.GET("/:name", handleCrateInfo(facade))
	crates.GET("/:name/:version/download", handleDownload(facade))
	crates.DELETE("/:name/:version/yank", handleYank(facade, true))
	crates.PUT("/:name/:version/unyank", handleYank(facade, false))
	crates.GET("/:name/owners", handleGetOwners(facade))
	crates.PUT("/:name/owners", handleAddOwners(facade))
	crates.DELETE("/:name/owners", handleRemoveOwners(facade))
	crates.GET("/outdated-heads", handleOutdatedHeads(facade))
}

// handleOutdatedHeads is the registry-wide admin view over crates whose
// latest version currently flags a dependency advisory. It is not part of
// the cargo wire protocol (spec §6); it exists purely as an operational
// surface, so it takes no credentials beyond reachability.
func handleOutdatedHeads(facade *registry.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		crates, err := facade.GetCratesOutdatedHeads(c.Request.Context())
		if err != nil {
			respondError(c, err, false)
			return
		}
		names := make([]string, 0, len(crates))
		for _, crate := range crates {
			names = append(names, crate.Name)
		}
		c.JSON(http.StatusOK, gin.H{"crates": names})
	}
}

func handlePublish(facade *registry.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenID, secret, err := parseCredential(c.GetHeader("Authorization"))
		if err != nil {
			respondError(c, err, false)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": []gin.H{{"detail": "failed to read request body"}}})
			return
		}

		result, err := facade.PublishCrateVersion(c.Request.Context(), tokenID, secret, body)
		if err != nil {
			respondError(c, err, false)
			return
		}

		c.JSON(http.StatusOK, gin.H{"crate": gin.H{"name": result.Crate, "vers": result.Version}})
	}
}

func handleSearch(facade *registry.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := c.Query("q")
		page := 1
		if p, err := strconv.Atoi(c.Query("page")); err == nil {
			page = p
		}
		perPage := 0
		if pp, err := strconv.Atoi(c.Query("per_page")); err == nil {
			perPage = pp
		}

		results, total, err := facade.Search(c.Request.Context(), query, page, perPage)
		if err != nil {
			respondError(c, err, false)
			return
		}

		crates := make([]gin.H, 0, len(results))
		for _, r := range results {
			crates = append(crates, gin.H{
				"name":           r.Name,
				"max_version":    r.LatestVersion,
				"download_count": r.DownloadCount,
			})
		}
		c.JSON(http.StatusOK, gin.H{"crates": crates, "meta": gin.H{"total": total}})
	}
}

func handleCrateInfo(facade *registry.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		versions, targets, err := facade.GetCrateInfo(c.Request.Context(), name)
		if err != nil {
			respondError(c, err, false)
			return
		}

		versionsJSON := make([]gin.H, 0, len(versions))
		for _, v := range versions {
			versionsJSON = append(versionsJSON, gin.H{
				"num":            v.Number,
				"yanked":         v.Yanked,
				"cksum":          v.Checksum,
				"download_count": v.DownloadCount,
				"docs_status":    v.DocsStatus,
				"description":    v.Description,
				"license":        v.License,
				"authors":        splitPipe(v.Authors),
				"keywords":       splitPipe(v.Keywords),
			})
		}
		c.JSON(http.StatusOK, gin.H{"name": name, "versions": versionsJSON, "targets": targets})
	}
}

func handleDownload(facade *registry.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		content, err := facade.GetCrateContent(c.Request.Context(), c.Param("name"), c.Param("version"))
		if err != nil {
			// Downloads never prompt for credentials: a 401 here is
			// rewritten to 403 at the boundary (spec §7).
			respondError(c, err, true)
			return
		}
		c.Data(http.StatusOK, "application/gzip", content)
	}
}

func handleYank(facade *registry.Facade, yanked bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenID, secret, err := parseCredential(c.GetHeader("Authorization"))
		if err != nil {
			respondError(c, err, false)
			return
		}
		err = facade.YankVersion(c.Request.Context(), tokenID, secret, c.Param("name"), c.Param("version"), yanked)
		if err != nil {
			respondError(c, err, false)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

type ownersRequest struct {
	Users []string `json:"users"`
}

func handleAddOwners(facade *registry.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenID, secret, userIDs, err := parseOwnerMutation(c)
		if err != nil {
			respondError(c, err, false)
			return
		}
		if err := facade.AddOwners(c.Request.Context(), tokenID, secret, c.Param("name"), userIDs); err != nil {
			respondError(c, err, false)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func handleRemoveOwners(facade *registry.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenID, secret, userIDs, err := parseOwnerMutation(c)
		if err != nil {
			respondError(c, err, false)
			return
		}
		if err := facade.RemoveOwners(c.Request.Context(), tokenID, secret, c.Param("name"), userIDs); err != nil {
			respondError(c, err, false)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func parseOwnerMutation(c *gin.Context) (uuid.UUID, string, []uuid.UUID, error) {
	tokenID, secret, err := parseCredential(c.GetHeader("Authorization"))
	if err != nil {
		return uuid.Nil, "", nil, err
	}

	var req ownersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return uuid.Nil, "", nil, apierror.New(apierror.InvalidRequest, "malformed owners request body")
	}

	userIDs := make([]uuid.UUID, 0, len(req.Users))
	for _, u := range req.Users {
		id, err := uuid.Parse(u)
		if err != nil {
			return uuid.Nil, "", nil, apierror.New(apierror.InvalidRequest, "malformed user id in owners request")
		}
		userIDs = append(userIDs, id)
	}
	return tokenID, secret, userIDs, nil
}

func handleGetOwners(facade *registry.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		owners, err := facade.GetOwners(c.Request.Context(), c.Param("name"))
		if err != nil {
			respondError(c, err, false)
			return
		}
		userIDs := make([]string, 0, len(owners))
		for _, o := range owners {
			userIDs = append(userIDs, o.UserID.String())
		}
		c.JSON(http.StatusOK, gin.H{"users": userIDs})
	}
}

func splitPipe(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "|")
}

func respondError(c *gin.Context, err error, rewriteUnauthorized bool) {
	status := apierror.StatusOf(err, rewriteUnauthorized)
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", "Basic realm=registry")
	}
	c.JSON(status, gin.H{"errors": []gin.H{{"detail": err.Error()}}})
}
