package taxonomy

// Wire parameter names understood by the collector.
const (
	ParamCategory       = "event_category"
	ParamLabel          = "event_label"
	ParamValue          = "value"
	ParamNonInteraction = "non_interaction"
	ParamTransportType  = "transport_type"
	ParamWidgetName     = "widget_name"
	ParamViewType       = "view_type"
	ParamExportType     = "export_type"
	ParamPageName       = "page_name"
	ParamTabName        = "tab_name"
)

// Event is a single interaction to report.
type Event struct {
	Action         Action
	Category       Category
	Label          string
	Value          *float64
	NonInteraction bool
	Transport      TransportType
	// Extra carries forward-compatible parameters, e.g. page_name or tab_name.
	Extra map[string]any
}

// Params are the normalized parameters sent with an event command.
type Params map[string]any

// Normalize maps e onto the fixed parameter schema. Extra keys pass through
// unchanged unless they collide with a schema key, in which case the schema
// value wins. Unknown categories and actions are not rejected.
func Normalize(e Event) Params {
	p := make(Params, len(e.Extra)+5)
	for k, v := range e.Extra {
		p[k] = v
	}
	p[ParamCategory] = string(e.Category)
	if e.Label != "" {
		p[ParamLabel] = e.Label
	} else {
		delete(p, ParamLabel)
	}
	if e.Value != nil {
		p[ParamValue] = *e.Value
	} else {
		delete(p, ParamValue)
	}
	if e.NonInteraction {
		p[ParamNonInteraction] = true
	}
	if e.Transport != "" {
		p[ParamTransportType] = string(e.Transport)
	}
	return p
}

// Value returns a pointer to v for use in Event.Value.
func Value(v float64) *float64 {
	return &v
}

// WidgetInteraction builds an event for an action taken inside a named widget.
func WidgetInteraction(widget string, action Action, extra map[string]any) Event {
	return Event{
		Action:   action,
		Category: CategoryWidgetInteraction,
		Label:    widget,
		Extra:    merge(map[string]any{ParamWidgetName: widget}, extra),
	}
}

// ViewChange builds an event for a widget switching layout.
func ViewChange(widget string, view ViewType, extra map[string]any) Event {
	return Event{
		Action:   ActionViewChange,
		Category: CategoryViewChange,
		Label:    widget,
		Extra: merge(map[string]any{
			ParamWidgetName: widget,
			ParamViewType:   string(view),
		}, extra),
	}
}

// DataPointInteraction builds an event for a click on a chart data point.
func DataPointInteraction(widget, dataPoint string, extra map[string]any) Event {
	return Event{
		Action:   ActionDataPointClick,
		Category: CategoryDataPoint,
		Label:    dataPoint,
		Extra:    merge(map[string]any{ParamWidgetName: widget}, extra),
	}
}

// Export builds an event for a data export from a widget.
func Export(widget string, kind ExportType, extra map[string]any) Event {
	return Event{
		Action:   ActionExportData,
		Category: CategoryExport,
		Label:    widget,
		Extra: merge(map[string]any{
			ParamWidgetName: widget,
			ParamExportType: string(kind),
		}, extra),
	}
}

// merge copies extra over base. Caller-supplied values win.
func merge(base, extra map[string]any) map[string]any {
	for k, v := range extra {
		base[k] = v
	}
	return base
}
