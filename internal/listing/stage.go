package listing

// StageAfterDiscovery returns the stage a record should hold once directory
// fields are populated. A brand-new record moves straight from initial to
// google_maps in the same operation; existing records past google_maps keep
// their stage so discovery never regresses enrichment progress.
func StageAfterDiscovery(current Stage) Stage {
	switch current {
	case "", StageInitial:
		return StageGoogleMaps
	default:
		return current
	}
}

// StageAfterExtraction applies the extraction edge of the state machine.
// Success advances to website_scraped from any re-entrant stage (google_maps,
// failed, or a fully_enriched record picked up by the stale sweep). Failure
// moves to failed without rolling back past google_maps.
func StageAfterExtraction(current Stage, status ScrapeStatus) Stage {
	switch status {
	case ScrapeSuccess:
		return StageWebsiteScraped
	case ScrapeFailed:
		return StageFailed
	default:
		return current
	}
}

// StageForNoWebsite short-circuits records discovered without a website: no
// extraction is possible, so they are treated as enriched with available data.
// Records already past google_maps are left alone.
func StageForNoWebsite(current Stage) Stage {
	switch current {
	case "", StageInitial, StageGoogleMaps:
		return StageFullyEnriched
	default:
		return current
	}
}
