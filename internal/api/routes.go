package api

import "github.com/gin-gonic/gin"

// Routes bundles the handlers so the server and tests mount the same table.
// Nil handlers are skipped.
type Routes struct {
	Auth     *AuthHandler
	Users    *UserHandler
	Contacts *ContactHandler
	Messages *MessageHandler
	Notes    *NoteHandler
	Sync     *SyncHandler
	Calls    *CallHandler
	Stream   *StreamHandler
}

// RegisterPublic mounts the routes that run without AuthMiddleware.
func (rt Routes) RegisterPublic(r gin.IRouter) {
	if rt.Auth != nil {
		r.POST("/auth/signup", rt.Auth.Signup)
		r.POST("/auth/login", rt.Auth.Login)
	}
}

// Register mounts the authenticated routes.
func (rt Routes) Register(r gin.IRouter) {
	if rt.Users != nil {
		r.GET("/me", rt.Users.GetMe)
	}
	if rt.Contacts != nil {
		r.POST("/contacts", rt.Contacts.Create)
		r.GET("/contacts", rt.Contacts.List)
		r.GET("/contacts/:id", rt.Contacts.Get)
		r.PATCH("/contacts/:id", rt.Contacts.Update)
		r.DELETE("/contacts/:id", rt.Contacts.Delete)
		r.POST("/contacts/:id/merge", rt.Contacts.Merge)
		r.GET("/contacts/:id/activity", rt.Contacts.Activity)
	}
	if rt.Messages != nil {
		r.GET("/messages", rt.Messages.List)
		r.POST("/messages", rt.Messages.Send)
		r.GET("/contacts/:id/messages", rt.Messages.ListByContact)
	}
	if rt.Notes != nil {
		r.POST("/contacts/:id/notes", rt.Notes.Create)
		r.GET("/contacts/:id/notes", rt.Notes.List)
		r.DELETE("/notes/:id", rt.Notes.Delete)
	}
	if rt.Sync != nil {
		r.POST("/sync", rt.Sync.Run)
		r.GET("/sync", rt.Sync.Status)
	}
	if rt.Calls != nil {
		r.POST("/calls", rt.Calls.Call)
		r.POST("/calls/schedule", rt.Calls.Schedule)
	}
	if rt.Stream != nil {
		r.GET("/stream", rt.Stream.Stream)
	}
}
