package authz

// Permission keys. The persisted permissions table is rebuilt from this list
// by the synchronizer at deploy time; nothing else creates permissions.
const (
	PermBlogView           = "blog.view"
	PermBlogCreate         = "blog.create"
	PermBlogEdit           = "blog.edit"
	PermBlogPublish        = "blog.publish"
	PermBlogDelete         = "blog.delete"
	PermBlogManageTaxonomy = "blog.taxonomy.manage"

	PermJobView           = "job.view"
	PermJobCreate         = "job.create"
	PermJobEdit           = "job.edit"
	PermJobPublish        = "job.publish"
	PermJobDelete         = "job.delete"
	PermJobManageTaxonomy = "job.taxonomy.manage"

	PermUserView   = "user.view"
	PermUserInvite = "user.invite"
	PermUserEdit   = "user.edit"
	PermUserDelete = "user.delete"

	PermRoleView   = "role.view"
	PermRoleCreate = "role.create"
	PermRoleEdit   = "role.edit"
	PermRoleDelete = "role.delete"

	PermAuditView = "audit.view"
)

const (
	groupBlog  = "Blog"
	groupJobs  = "Job Board"
	groupUsers = "Users"
	groupRoles = "Roles"
	groupAudit = "Audit"
)

// catalog is the declared permission list, in display order.
var catalog = []Permission{
	{Key: PermBlogView, Label: "View posts", Group: groupBlog, Description: "Read blog posts and drafts"},
	{Key: PermBlogCreate, Label: "Create posts", Group: groupBlog, Description: "Create new blog posts"},
	{Key: PermBlogEdit, Label: "Edit posts", Group: groupBlog, Description: "Edit existing blog posts"},
	{Key: PermBlogPublish, Label: "Publish posts", Group: groupBlog, Description: "Publish or unpublish blog posts"},
	{Key: PermBlogDelete, Label: "Delete posts", Group: groupBlog, Description: "Delete blog posts"},
	{Key: PermBlogManageTaxonomy, Label: "Manage blog taxonomy", Group: groupBlog, Description: "Manage blog categories and contributors"},

	{Key: PermJobView, Label: "View job posts", Group: groupJobs, Description: "Read job postings"},
	{Key: PermJobCreate, Label: "Create job posts", Group: groupJobs, Description: "Create new job postings"},
	{Key: PermJobEdit, Label: "Edit job posts", Group: groupJobs, Description: "Edit existing job postings"},
	{Key: PermJobPublish, Label: "Publish job posts", Group: groupJobs, Description: "Publish or unpublish job postings"},
	{Key: PermJobDelete, Label: "Delete job posts", Group: groupJobs, Description: "Delete job postings"},
	{Key: PermJobManageTaxonomy, Label: "Manage job taxonomy", Group: groupJobs, Description: "Manage job categories"},

	{Key: PermUserView, Label: "View users", Group: groupUsers, Description: "List and inspect user profiles"},
	{Key: PermUserInvite, Label: "Invite users", Group: groupUsers, Description: "Send onboarding invitations"},
	{Key: PermUserEdit, Label: "Edit users", Group: groupUsers, Description: "Edit user profiles and roles"},
	{Key: PermUserDelete, Label: "Delete users", Group: groupUsers, Description: "Soft-delete user profiles"},

	{Key: PermRoleView, Label: "View roles", Group: groupRoles, Description: "List roles and their grants"},
	{Key: PermRoleCreate, Label: "Create roles", Group: groupRoles, Description: "Create new roles"},
	{Key: PermRoleEdit, Label: "Edit roles", Group: groupRoles, Description: "Rename roles and change their grants"},
	{Key: PermRoleDelete, Label: "Delete roles", Group: groupRoles, Description: "Delete unused roles"},

	{Key: PermAuditView, Label: "View audit log", Group: groupAudit, Description: "Read the audit trail"},
}

// Catalog returns a copy of the declared permission list.
func Catalog() []Permission {
	out := make([]Permission, len(catalog))
	copy(out, catalog)
	return out
}

// CatalogKeys returns declared keys in declaration order.
func CatalogKeys() []string {
	keys := make([]string, len(catalog))
	for i, p := range catalog {
		keys[i] = p.Key
	}
	return keys
}
