package handlers

import (
	"fmt"
	"net/http"

	"server/internal/domain"
	"server/pkg/zip"
)

// ExportWorkflow bundles every durable artifact of a workflow into a zip
// download: character references, scene images, clips, and the merged video.
func (a *App) ExportWorkflow(w http.ResponseWriter, r *http.Request) {
	e, err := a.engine(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	snap := e.Snapshot()

	var assets []zip.Asset
	add := func(filename, url string) {
		if url == "" {
			return
		}
		data, err := a.Store.Fetch(r.Context(), url)
		if err != nil {
			a.Log.Warn().Err(err).Str("url", url).Msg("export: artifact skipped")
			return
		}
		assets = append(assets, zip.Asset{Filename: filename, Data: data})
	}

	for i, c := range snap.Characters {
		add(fmt.Sprintf("characters/%02d-%s.png", i+1, c.ID), c.StorageURL)
	}
	for i, s := range snap.Scenes {
		add(fmt.Sprintf("scenes/%02d-%s.png", i+1, s.ID), s.Image.StorageURL)
		if v := snap.VideoForScene(s.ID); v != nil {
			add(fmt.Sprintf("videos/%02d-%s.mp4", i+1, v.ID), v.StorageURL)
		}
	}
	add("final.mp4", snap.MergedURL)
	if len(assets) == 0 {
		a.fail(w, r, fmt.Errorf("%w: no artifacts to export", domain.ErrNotFound))
		return
	}

	archive := zip.ArchiveAssets(assets)
	if archive == nil {
		a.fail(w, r, fmt.Errorf("export: archive failed"))
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="workflow-%s.zip"`, snap.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
