package store

import (
	"github.com/Joseda-hg/lazycrm/internal/gateway"
	"github.com/Joseda-hg/lazycrm/internal/model"
)

func leadFromRow(row gateway.Row) model.Lead {
	status, ok := model.ParseStage(row.String("status"))
	if !ok {
		status = model.StageNew
	}
	return model.Lead{
		ID:               row.String("id"),
		Name:             row.String("name"),
		Company:          row.String("company"),
		Phone:            row.String("phone"),
		Email:            row.String("email"),
		Status:           status,
		CreatedAt:        row.Time("created_at"),
		ResponsibleName:  row.String("responsible_name"),
		ResponsiblePhone: row.String("responsible_phone"),
		Origin:           row.String("origin"),
		Owner:            row.String("owner"),
		LastInteraction:  row.Time("last_interaction"),
		NextAction:       row.String("next_action"),
		Notes:            []model.Note{},
	}
}

func noteFromRow(row gateway.Row) model.Note {
	return model.Note{
		ID:        row.String("id"),
		Content:   row.String("content"),
		CreatedAt: row.Time("created_at"),
	}
}

// patchFromRow keeps only the columns present in row. Unknown stages are
// dropped so a lead never leaves the pipeline.
func patchFromRow(row gateway.Row) model.LeadPatch {
	var patch model.LeadPatch
	text := func(key string) *string {
		if !row.Has(key) {
			return nil
		}
		v := row.String(key)
		return &v
	}
	patch.Name = text("name")
	patch.Company = text("company")
	patch.Phone = text("phone")
	patch.Email = text("email")
	patch.ResponsibleName = text("responsible_name")
	patch.ResponsiblePhone = text("responsible_phone")
	patch.Origin = text("origin")
	patch.NextAction = text("next_action")
	if row.Has("status") {
		if status, ok := model.ParseStage(row.String("status")); ok {
			patch.Status = &status
		}
	}
	if row.Has("last_interaction") {
		t := row.Time("last_interaction")
		patch.LastInteraction = &t
	}
	return patch
}

func rowFromPatch(patch model.LeadPatch) gateway.Row {
	row := gateway.Row{}
	if patch.Name != nil {
		row["name"] = *patch.Name
	}
	if patch.Company != nil {
		row["company"] = *patch.Company
	}
	if patch.Phone != nil {
		row["phone"] = *patch.Phone
	}
	if patch.Email != nil {
		row["email"] = *patch.Email
	}
	if patch.Status != nil {
		row["status"] = string(*patch.Status)
	}
	if patch.ResponsibleName != nil {
		row["responsible_name"] = *patch.ResponsibleName
	}
	if patch.ResponsiblePhone != nil {
		row["responsible_phone"] = *patch.ResponsiblePhone
	}
	if patch.Origin != nil {
		row["origin"] = *patch.Origin
	}
	if patch.NextAction != nil {
		row["next_action"] = *patch.NextAction
	}
	if patch.LastInteraction != nil {
		row["last_interaction"] = *patch.LastInteraction
	}
	return row
}

func rowFromLead(lead model.Lead) gateway.Row {
	return gateway.Row{
		"name":              lead.Name,
		"company":           lead.Company,
		"phone":             lead.Phone,
		"email":             lead.Email,
		"status":            string(lead.Status),
		"owner":             lead.Owner,
		"origin":            lead.Origin,
		"responsible_name":  lead.ResponsibleName,
		"responsible_phone": lead.ResponsiblePhone,
		"next_action":       lead.NextAction,
		"last_interaction":  lead.LastInteraction,
		"created_at":        lead.CreatedAt,
	}
}
