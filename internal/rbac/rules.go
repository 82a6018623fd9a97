package rbac

const (
	ActionCalibrationRecompute = "calibration:recompute"
	ActionGradesRecompute      = "grades:recompute"
	ActionSettingsUpdate       = "settings:update"
	ActionReleaseToggle        = "release:toggle"
	ActionAssessmentSubmit     = "assessment:submit"
	ActionAssessmentOverride   = "assessment:override"
	ActionAllocationRevoke     = "allocation:revoke"
	ActionTeamevalRespond      = "teameval:respond"
	ActionMarksViewAll         = "marks:view-all"
)

// Default policy per role.
var RolePermissions = map[string][]string{
	"student": {
		ActionAssessmentSubmit,
		ActionTeamevalRespond,
	},
	"teacher": {
		"calibration:*",
		"grades:*",
		ActionSettingsUpdate,
		ActionReleaseToggle,
		ActionAssessmentOverride,
		ActionAllocationRevoke,
		ActionMarksViewAll,
	},
	"admin": {
		"*", // everything
	},
}
