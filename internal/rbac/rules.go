package rbac

// Default policy. Students act on their own attempts/results only; the
// -own vs -all split is enforced at the handler by scoping queries to the
// authenticated subject.
var RolePermissions = map[string][]string{
	"student": {
		"exam:view",
		"attempt:create",
		"attempt:save",
		"attempt:submit",
		"attempt:view-own",
		"result:view-own",
		"user:change_password",
	},
	"teacher": {
		"exam:create",
		"exam:update",
		"exam:publish",
		"exam:view",
		"question:manage",
		"attempt:view-all",
		"attempt:grade",
		"attempt:close",
		"result:view-all",
		"users:bulk_upsert",
		"users:list",
		"user:change_password",
	},
	"admin": {
		"*", // everything
	},
}
