// Package taxonomy defines the closed set of event categories and actions the
// dashboard emits, and normalizes events into gtag wire parameters.
//
// The sets are closed by convention only. Normalize accepts any string so the
// taxonomy can grow without breaking older callers.
//
// Schema parameters (event_category, event_label, value, non_interaction,
// transport_type) cannot be overridden through Event.Extra: a colliding extra
// key is replaced by the schema value. The builders are different: caller
// extras override the helper parameters they add, such as widget_name.
package taxonomy

// Category groups events by the surface that produced them.
type Category string

// Dashboard categories.
const (
	CategoryDashboard           Category = "dashboard"
	CategoryBrokerageActivities Category = "brokerage_activities"
	CategoryBrokerageFile       Category = "brokerage_file"
	CategoryShipments           Category = "shipments"
	CategoryEntryDetails        Category = "entry_details"
	CategoryInvoices            Category = "invoices"
)

// Interaction categories.
const (
	CategoryButtonClick       Category = "button_click"
	CategoryWidgetInteraction Category = "widget_interaction"
	CategoryDataPoint         Category = "data_point"
	CategoryViewChange        Category = "view_change"
	CategoryExport            Category = "export"
	CategoryNavigation        Category = "navigation"
)

// CategorySystem is reserved for events the client emits about itself.
const CategorySystem Category = "system"

var categories = map[Category]struct{}{
	CategoryDashboard:           {},
	CategoryBrokerageActivities: {},
	CategoryBrokerageFile:       {},
	CategoryShipments:           {},
	CategoryEntryDetails:        {},
	CategoryInvoices:            {},
	CategoryButtonClick:         {},
	CategoryWidgetInteraction:   {},
	CategoryDataPoint:           {},
	CategoryViewChange:          {},
	CategoryExport:              {},
	CategoryNavigation:          {},
	CategorySystem:              {},
}

// Known reports whether c belongs to the taxonomy.
func (c Category) Known() bool {
	_, ok := categories[c]
	return ok
}

// Action names what the user did.
type Action string

// Dashboard actions.
const (
	ActionDashPending    Action = "DashPending"
	ActionDashFiled      Action = "DashFiled"
	ActionDashReleased   Action = "DashReleased"
	ActionDashDispatched Action = "DashDispatched"
	ActionDashDelivered  Action = "DashDelivered"
	ActionDashException  Action = "DashException"
	ActionDashEntries    Action = "DashEntries"
	ActionDashCycle      Action = "DashCycle"
	ActionDashCompliance Action = "DashCompliance"
	ActionDashSpending   Action = "DashSpending"
	ActionDashExceptions Action = "DashExceptions"
)

// Brokerage file actions.
const (
	ActionBrkrgSummary    Action = "BrkrgSummary"
	ActionBrkrgPouch      Action = "BrkrgePouch"
	ActionBrkrgParties    Action = "BrkrgParties"
	ActionBrkrgISF        Action = "BrkrgISF"
	ActionBrkrgHistory    Action = "BrkrgHistory"
	ActionBrkrgLinkRef    Action = "BrkrgLinkRef"
	ActionBrkrgBilling    Action = "BrkrgBilling"
	ActionBrkrgBOL        Action = "BrkrgBOL"
	ActionBrkrgEntry      Action = "BrkrgEntry"
	ActionBrkrgExceptions Action = "BrkrgExceptions"
)

// Shipment actions.
const (
	ActionShipITStatus       Action = "ShipITStatus"
	ActionShipITAnalysis     Action = "ShipITAnalysis"
	ActionShipITETA          Action = "ShipITETA"
	ActionShipISCMilestones  Action = "ShipISCMilestones"
	ActionShipISCWeekly      Action = "ShipISCWeekly"
	ActionShipCBSCMilestones Action = "ShipCBSCMilestones"
	ActionShipCBSCWeekly     Action = "ShipCBSCWeekly"
	ActionShipVolMOT         Action = "ShipVolMOT"
	ActionShipVolOrigin      Action = "ShipVolOrigin"
	ActionShipVolEntry       Action = "ShipVolEntry"
	ActionShipVolExport      Action = "ShipVolExport"
	ActionShipExcepAnalysis  Action = "ShipExcepAnalysis"
	ActionShipExcepVolumes   Action = "ShipExcepVolumes"
	ActionShipFDAEntry       Action = "ShipFDAEntry"
)

// Entry detail actions.
const (
	ActionEntryMonthly     Action = "EntryMonthly"
	ActionEntryParts       Action = "EntryParts"
	ActionEntryChart       Action = "EntryChart"
	ActionEntryEDI         Action = "EntryEDI"
	ActionEntrySPTrend     Action = "EntrySPTrend"
	ActionEntrySPUsage     Action = "EntrySPUsage"
	ActionEntryTariffValue Action = "EntryTariffValue"
	ActionEntryTariffOccur Action = "EntryTariffOccur"
	ActionEntryTariffClass Action = "EntryTariffClass"
	ActionEntryMID         Action = "EntryMID"
)

// Invoice actions.
const (
	ActionInvoicesOverview Action = "InvoicesOverview"
	ActionInvoicesMonthly  Action = "InvoicesMonthly"
)

// Common actions shared across widgets.
const (
	ActionViewChange      Action = "view_change"
	ActionExportData      Action = "export_data"
	ActionColumnChooser   Action = "column_chooser"
	ActionDataPointClick  Action = "data_point_click"
	ActionWidgetShortcut  Action = "widget_shortcut"
	ActionAccordionToggle Action = "accordion_toggle"
)

// ActionVerification is the synthetic event the verification gate sends.
const ActionVerification Action = "ga4_verification"

var actions = map[Action]struct{}{}

func init() {
	for _, a := range []Action{
		ActionDashPending, ActionDashFiled, ActionDashReleased, ActionDashDispatched,
		ActionDashDelivered, ActionDashException, ActionDashEntries, ActionDashCycle,
		ActionDashCompliance, ActionDashSpending, ActionDashExceptions,
		ActionBrkrgSummary, ActionBrkrgPouch, ActionBrkrgParties, ActionBrkrgISF,
		ActionBrkrgHistory, ActionBrkrgLinkRef, ActionBrkrgBilling, ActionBrkrgBOL,
		ActionBrkrgEntry, ActionBrkrgExceptions,
		ActionShipITStatus, ActionShipITAnalysis, ActionShipITETA, ActionShipISCMilestones,
		ActionShipISCWeekly, ActionShipCBSCMilestones, ActionShipCBSCWeekly, ActionShipVolMOT,
		ActionShipVolOrigin, ActionShipVolEntry, ActionShipVolExport, ActionShipExcepAnalysis,
		ActionShipExcepVolumes, ActionShipFDAEntry,
		ActionEntryMonthly, ActionEntryParts, ActionEntryChart, ActionEntryEDI,
		ActionEntrySPTrend, ActionEntrySPUsage, ActionEntryTariffValue, ActionEntryTariffOccur,
		ActionEntryTariffClass, ActionEntryMID,
		ActionInvoicesOverview, ActionInvoicesMonthly,
		ActionViewChange, ActionExportData, ActionColumnChooser, ActionDataPointClick,
		ActionWidgetShortcut, ActionAccordionToggle,
		ActionVerification,
	} {
		actions[a] = struct{}{}
	}
}

// Known reports whether a belongs to the taxonomy.
func (a Action) Known() bool {
	_, ok := actions[a]
	return ok
}

// ViewType is the layout a widget was switched to.
type ViewType string

const (
	ViewVertical   ViewType = "vertical"
	ViewHorizontal ViewType = "horizontal"
	ViewGrid       ViewType = "grid"
	ViewBar        ViewType = "bar"
	ViewMap        ViewType = "map"
)

// ExportType says which rows an export covered.
type ExportType string

const (
	ExportAll      ExportType = "all"
	ExportSelected ExportType = "selected"
)

// TransportType is a delivery hint passed through to the collector.
type TransportType string

const (
	TransportBeacon TransportType = "beacon"
	TransportXHR    TransportType = "xhr"
	TransportImage  TransportType = "image"
)

