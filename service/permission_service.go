package services

import (
	model "github.com/sahilkadam/complianceos/models"
)

// Operations checked through the permission gate.
const (
	OpUpdate        = "update"
	OpCreate        = "create"
	OpDelete        = "delete"
	OpDeleteSeries  = "delete_series"
	OpReopen        = "reopen"
	OpClientAdmin   = "client_admin"
	OpTeamAdmin     = "team_admin"
	OpTemplateAdmin = "template_admin"
	OpExport        = "export"
	OpImport        = "import"
	OpSweep         = "sweep"
)

// Task field names as they appear in batch rows, audit entries and CSV
// headers. Every mutable field is listed here; the gate denies anything
// it does not recognise.
const (
	FieldStatus                   = "status"
	FieldAssignee                 = "assignee"
	FieldTitle                    = "title"
	FieldCategory                 = "category"
	FieldPriority                 = "priority"
	FieldStartDate                = "start_date"
	FieldDueDate                  = "due_date"
	FieldNotes                    = "notes"
	FieldDelayReason              = "delay_reason"
	FieldOverrideTo               = "override_to"
	FieldOverrideCC               = "override_cc"
	FieldOverrideBCC              = "override_bcc"
	FieldStartMailEnabled         = "start_mail_enabled"
	FieldCompletionMailEnabled    = "completion_mail_enabled"
	FieldNotifyAssigneeOnComplete = "notify_assignee_on_complete"
	FieldNotifyManagerOnComplete  = "notify_manager_on_complete"
	FieldCalendarDescription      = "calendar_description"
	FieldStartMailThreadRef       = "start_mail_thread_ref"
	FieldDeliveryFailureNote      = "delivery_failure_note"
	FieldComment                  = "comment"
	FieldAttachment               = "attachment"
)

// mutableTaskFields is every field the apply path accepts at all.
var mutableTaskFields = map[string]bool{
	FieldStatus:                   true,
	FieldAssignee:                 true,
	FieldTitle:                    true,
	FieldCategory:                 true,
	FieldPriority:                 true,
	FieldStartDate:                true,
	FieldDueDate:                  true,
	FieldNotes:                    true,
	FieldDelayReason:              true,
	FieldOverrideTo:               true,
	FieldOverrideCC:               true,
	FieldOverrideBCC:              true,
	FieldStartMailEnabled:         true,
	FieldCompletionMailEnabled:    true,
	FieldNotifyAssigneeOnComplete: true,
	FieldNotifyManagerOnComplete:  true,
	FieldCalendarDescription:      true,
	FieldStartMailThreadRef:       true,
	FieldDeliveryFailureNote:      true,
	FieldComment:                  true,
	FieldAttachment:               true,
}

// associateFields is the subset an ASSOCIATE may mutate, and only on
// tasks assigned to them.
var associateFields = map[string]bool{
	FieldStatus:      true,
	FieldNotes:       true,
	FieldDelayReason: true,
	FieldComment:     true,
	FieldAttachment:  true,
}

var knownOperations = map[string]bool{
	OpUpdate:        true,
	OpCreate:        true,
	OpDelete:        true,
	OpDeleteSeries:  true,
	OpReopen:        true,
	OpClientAdmin:   true,
	OpTeamAdmin:     true,
	OpTemplateAdmin: true,
	OpExport:        true,
	OpImport:        true,
	OpSweep:         true,
}

// PermissionGate is the single authorization decision point. Every
// mutation path (single edit, bulk action, spreadsheet import, scheduled
// sweep) consults the same gate with the same arguments.
type PermissionGate struct {
	partnerOnly map[string]bool
}

// NewPermissionGate builds a gate. partnerOnlyOps overrides the set of
// operations reserved for PARTNER; the default reserves client and
// team/role administration.
func NewPermissionGate(partnerOnlyOps ...string) *PermissionGate {
	if len(partnerOnlyOps) == 0 {
		partnerOnlyOps = []string{OpClientAdmin, OpTeamAdmin}
	}
	reserved := make(map[string]bool, len(partnerOnlyOps))
	for _, op := range partnerOnlyOps {
		reserved[op] = true
	}
	return &PermissionGate{partnerOnly: reserved}
}

// CanMutate decides whether role may perform operation on field for a
// task it does or does not own. Deny-by-default: unknown roles,
// operations and fields are refused. The ASSOCIATE-cannot-complete rule
// is value-dependent and therefore lives in the lifecycle state machine,
// not here.
func (g *PermissionGate) CanMutate(role, operation, field string, isOwnTask bool) bool {
	if !knownOperations[operation] {
		return false
	}
	if operation == OpUpdate && !mutableTaskFields[field] {
		return false
	}

	switch role {
	case model.RolePartner:
		return true
	case model.RoleManager:
		return !g.partnerOnly[operation]
	case model.RoleAssociate:
		switch operation {
		case OpUpdate:
			return isOwnTask && associateFields[field]
		case OpDelete:
			// An owned task may be deleted individually; series-wide
			// deletion is a different operation and stays denied.
			return isOwnTask
		}
		return false
	}
	return false
}
