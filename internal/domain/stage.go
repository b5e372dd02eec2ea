package domain

// ComputeStage derives the workflow stage from the aggregate. It is a pure
// function: recomputing an already-recomputed aggregate yields the same stage.
// Commands never assign stages; they mutate items and let this run.
func ComputeStage(w *Workflow) Stage {
	if w.StageFailure != "" {
		return StageFailed
	}
	if w.Idea == "" && w.SourceVideoURL == "" {
		return StageIdle
	}
	if w.Script == "" {
		return StageScript
	}
	if !w.Parsed {
		return StageScriptDone
	}
	if !charactersTerminal(w) {
		return StageParsingDone
	}
	if !sceneImagesTerminal(w) {
		return StageCharactersDone
	}
	if !videosTerminal(w) {
		return StageScenesDone
	}
	if w.MergedURL != "" {
		return StageCompleted
	}
	if w.Merge.Status.InFlight() {
		return StageMerging
	}
	return StageVideosDone
}

// Recompute applies ComputeStage to the aggregate in place and reports whether
// the stage changed.
func Recompute(w *Workflow) bool {
	next := ComputeStage(w)
	if next == w.Stage {
		return false
	}
	w.Stage = next
	return true
}

// Outcome classifies a run that has stopped making forward progress:
// completed when everything is done and merged, failed when a stage-blocking
// error occurred, partial when some items ended in error. A merged output with
// items still pending (reset behind the run's back) only waits.
func Outcome(w *Workflow) WorkflowStatus {
	if w.StageFailure != "" {
		return WorkflowFailed
	}
	if w.MergedURL != "" && allItemsDone(w) {
		return WorkflowCompleted
	}
	if anyItemError(w) || w.Merge.Status == ItemError {
		return WorkflowPartial
	}
	return WorkflowWaiting
}

func charactersTerminal(w *Workflow) bool {
	for _, c := range w.Characters {
		if !c.Status.Terminal() {
			return false
		}
	}
	return true
}

func sceneImagesTerminal(w *Workflow) bool {
	for _, s := range w.Scenes {
		if !s.Image.Status.Terminal() {
			return false
		}
	}
	return true
}

func videosTerminal(w *Workflow) bool {
	if len(w.Videos) == 0 {
		// No videos have been derived yet; the video stage cannot be done.
		return false
	}
	for _, v := range w.Videos {
		if !v.Status.Terminal() {
			return false
		}
	}
	return true
}

func allItemsDone(w *Workflow) bool {
	for _, c := range w.Characters {
		if c.Status != ItemDone {
			return false
		}
	}
	for _, s := range w.Scenes {
		if s.Image.Status != ItemDone {
			return false
		}
	}
	for _, v := range w.Videos {
		if v.Status != ItemDone {
			return false
		}
	}
	return true
}

func anyItemError(w *Workflow) bool {
	for _, c := range w.Characters {
		if c.Status == ItemError {
			return true
		}
	}
	for _, s := range w.Scenes {
		if s.Image.Status == ItemError {
			return true
		}
	}
	for _, v := range w.Videos {
		if v.Status == ItemError {
			return true
		}
	}
	return false
}
