// Package roles holds the static organizational role catalog for the
// fleet administration system. The catalog is process-wide constant
// configuration: it is defined entirely at compile time and never
// mutated at runtime.
package roles

// Permission is one atomic allowed-action token. The vocabulary is
// closed: every grantable action is declared below and the per-role
// sets are expressed only in these constants.
type Permission string

const (
	PermAddVehicle     Permission = "add_vehicle"
	PermManageVehicles Permission = "manage_vehicles"
	PermRetireVehicle  Permission = "retire_vehicle"

	PermManageFuel         Permission = "manage_fuel"
	PermIssueFuel          Permission = "issue_fuel"
	PermApproveFuelRequest Permission = "approve_fuel_request"
	PermRecordFuelUsage    Permission = "record_fuel_usage"
	PermViewFuelReports    Permission = "view_fuel_reports"

	PermManageMaintenance         Permission = "manage_maintenance"
	PermRequestMaintenance        Permission = "request_maintenance"
	PermApproveMaintenanceRequest Permission = "approve_maintenance_request"

	PermReportIncidents Permission = "report_incidents"
	PermViewReports     Permission = "view_reports"

	PermRequestTrip        Permission = "request_trip"
	PermViewTripRequest    Permission = "view_trip_request"
	PermApproveTripRequest Permission = "approve_trip_request"
	PermScheduleTrips      Permission = "schedule_trips"
	PermViewAssignedTrips  Permission = "view_assigned_trips"
	PermAssignDriver       Permission = "assign_driver"

	PermManageInsurance  Permission = "manage_insurance"
	PermManagePositions  Permission = "manage_positions"
	PermManageSpareParts Permission = "manage_spare_parts"
	PermManageUsers      Permission = "manage_users"
)

// Role identifies one organizational role as carried in a session.
type Role struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Info describes a catalog role.
type Info struct {
	ID          int
	Name        string
	Description string
}

// PermissionSet is the set of permissions a role grants.
type PermissionSet map[Permission]struct{}

// Has reports whether the set grants the permission.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// UnknownRoleID is the sentinel for names absent from the catalog. It
// never collides with a real role id and grants no permissions.
const UnknownRoleID = 0

const (
	TransportDirector  = 1
	FuelManager        = 2
	FuelAttendant      = 3
	MaintenanceManager = 4
	Driver             = 5
	Dispatcher         = 6
	InsuranceOfficer   = 7
	StoreKeeper        = 8
	Staff              = 9
)

var catalog = []Info{
	{ID: TransportDirector, Name: "Transport Director", Description: "Heads the transport directorate and oversees the whole fleet"},
	{ID: FuelManager, Name: "Fuel Manager", Description: "Plans fuel budgets and approves fuel requests"},
	{ID: FuelAttendant, Name: "Fuel Attendant", Description: "Dispenses fuel at the depot"},
	{ID: MaintenanceManager, Name: "Maintenance Manager", Description: "Runs the garage and approves maintenance work"},
	{ID: Driver, Name: "Driver", Description: "Operates assigned vehicles"},
	{ID: Dispatcher, Name: "Dispatcher", Description: "Schedules trips and assigns drivers"},
	{ID: InsuranceOfficer, Name: "Insurance Officer", Description: "Manages vehicle insurance coverage"},
	{ID: StoreKeeper, Name: "Store Keeper", Description: "Keeps the spare-part store"},
	{ID: Staff, Name: "Staff", Description: "University staff requesting transport"},
}

var grants = map[int]PermissionSet{
	TransportDirector: setOf(
		PermManageUsers,
		PermManageVehicles,
		PermAddVehicle,
		PermRetireVehicle,
		PermApproveTripRequest,
		PermViewTripRequest,
		PermAssignDriver,
		PermManagePositions,
		PermManageInsurance,
		PermViewReports,
	),
	FuelManager: setOf(
		PermManageFuel,
		PermApproveFuelRequest,
		PermViewFuelReports,
		PermViewReports,
	),
	FuelAttendant: setOf(
		PermRequestMaintenance,
		PermReportIncidents,
		PermViewReports,
		PermIssueFuel,
	),
	MaintenanceManager: setOf(
		PermManageMaintenance,
		PermApproveMaintenanceRequest,
		PermReportIncidents,
		PermViewReports,
	),
	Driver: setOf(
		PermViewAssignedTrips,
		PermRecordFuelUsage,
		PermRequestMaintenance,
		PermReportIncidents,
	),
	Dispatcher: setOf(
		PermScheduleTrips,
		PermAssignDriver,
		PermViewTripRequest,
		PermViewReports,
	),
	InsuranceOfficer: setOf(
		PermManageInsurance,
		PermViewReports,
	),
	StoreKeeper: setOf(
		PermManageSpareParts,
		PermViewReports,
	),
	Staff: setOf(
		PermRequestTrip,
	),
}

// RoleNameToID resolves a role display name to its id. Unknown names
// map to UnknownRoleID.
func RoleNameToID(name string) int {
	for _, info := range catalog {
		if info.Name == name {
			return info.ID
		}
	}
	return UnknownRoleID
}

// MapRoleNames converts role names to Role values, order preserving.
// Duplicates in the input produce duplicates in the output.
func MapRoleNames(names []string) []Role {
	mapped := make([]Role, 0, len(names))
	for _, name := range names {
		mapped = append(mapped, Role{ID: RoleNameToID(name), Name: name})
	}
	return mapped
}

// PermissionsFor returns the permissions granted to a role id. Unknown
// ids yield an empty set.
func PermissionsFor(roleID int) PermissionSet {
	granted, ok := grants[roleID]
	if !ok {
		return PermissionSet{}
	}
	out := make(PermissionSet, len(granted))
	for p := range granted {
		out[p] = struct{}{}
	}
	return out
}

// Describe returns catalog metadata for a role id.
func Describe(roleID int) (Info, bool) {
	for _, info := range catalog {
		if info.ID == roleID {
			return info, true
		}
	}
	return Info{}, false
}

// All returns the catalog entries in declaration order.
func All() []Info {
	out := make([]Info, len(catalog))
	copy(out, catalog)
	return out
}

func setOf(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}
