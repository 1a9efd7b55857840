package tenant

import "github.com/hugh/go-clinic/internal/database/models"

type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionUse    Action = "use"
)

type Resource string

const (
	ResourceOrganization Resource = "organization"
	ResourceMember       Resource = "member"
	ResourceInvite       Resource = "invite"
	ResourceClinic       Resource = "clinic"
	ResourcePatient      Resource = "patient"
	ResourceAppointment  Resource = "appointment"
	ResourceEHR          Resource = "ehr"
	ResourceAddOn        Resource = "addon"
	ResourceAnalytics    Resource = "analytics"
	ResourceAI           Resource = "ai"
	ResourceBackup       Resource = "backup"
)

type actions []Action

var (
	all      = actions{ActionRead, ActionCreate, ActionUpdate, ActionDelete}
	readOnly = actions{ActionRead}
	write    = actions{ActionRead, ActionCreate, ActionUpdate}
)

var policy = map[models.Role]map[Resource]actions{
	models.RoleAdmin: {
		ResourceOrganization: all,
		ResourceMember:       all,
		ResourceInvite:       all,
		ResourceClinic:       all,
		ResourcePatient:      all,
		ResourceAppointment:  all,
		ResourceEHR:          all,
		ResourceAddOn:        all,
		ResourceAnalytics:    readOnly,
		ResourceAI:           actions{ActionUse},
		ResourceBackup:       all,
	},
	models.RoleDoctor: {
		ResourceOrganization: readOnly,
		ResourceMember:       readOnly,
		ResourceInvite:       readOnly,
		ResourceClinic:       readOnly,
		ResourcePatient:      write,
		ResourceAppointment:  write,
		ResourceEHR:          write,
		ResourceAddOn:        readOnly,
		ResourceAnalytics:    readOnly,
		ResourceAI:           actions{ActionUse},
	},
	models.RoleStaff: {
		ResourceOrganization: readOnly,
		ResourceMember:       readOnly,
		ResourceInvite:       readOnly,
		ResourceClinic:       readOnly,
		ResourcePatient:      write,
		ResourceAppointment:  actions{ActionRead, ActionCreate},
		ResourceEHR:          readOnly,
		ResourceAddOn:        readOnly,
	},
}

// Can reports whether role may perform action on resource.
func Can(role models.Role, action Action, resource Resource) bool {
	for _, a := range policy[role][resource] {
		if a == action {
			return true
		}
	}
	return false
}
