package api

// TypeExportCompleted is the notification type marking a finished export
// job. The feed carries many other types; none of them matter here.
const TypeExportCompleted = "export-completed"

// ActivityRecord is one entry of the shared notification feed. StartTime is
// epoch milliseconds, transmitted as a string by the service.
type ActivityRecord struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	StartTime     int64    `json:"startTime,string"`
	DownloadLinks []string `json:"downloadLinks"`
}

// ActivityPage is one bounded page of recent feed entries.
// NotificationIDs preserves the feed's ordering, most recent first; the
// record map is keyed by those ids.
type ActivityPage struct {
	NotificationIDs []string `json:"notificationIds"`
	RecordMap       struct {
		Notification map[string]ActivityRecord `json:"notification"`
	} `json:"recordMap"`
}

// InOrder returns the page's records in feed index order. Ids without a
// record are skipped.
func (p *ActivityPage) InOrder() []ActivityRecord {
	out := make([]ActivityRecord, 0, len(p.NotificationIDs))
	for _, id := range p.NotificationIDs {
		rec, ok := p.RecordMap.Notification[id]
		if !ok {
			continue
		}
		if rec.ID == "" {
			rec.ID = id
		}
		out = append(out, rec)
	}
	return out
}

type enqueueTaskRequest struct {
	Task exportTask `json:"task"`
}

type exportTask struct {
	EventName string        `json:"eventName"`
	Request   exportRequest `json:"request"`
}

type exportRequest struct {
	SpaceID              string        `json:"spaceId"`
	ShouldExportComments bool          `json:"shouldExportComments"`
	ExportOptions        exportOptions `json:"exportOptions"`
}

type exportOptions struct {
	ExportType string `json:"exportType"`
	TimeZone   string `json:"timeZone"`
	Locale     string `json:"locale"`
}

type notificationLogRequest struct {
	SpaceID string `json:"spaceId"`
	Size    int    `json:"size"`
	Type    string `json:"type"`
	Variant string `json:"variant"`
}
