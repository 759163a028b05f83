package http_api

// routes sets up the routes for the HTTP server.
func (s *HTTPServer) routes() {
	v1 := s.router.Group("/api/v1")

	v1.POST("/handshakes", s.initiateHandshake)
	v1.POST("/handshakes/:id/response", s.respondHandshake)
	v1.POST("/handshakes/:id/reject", s.rejectHandshake)

	v1.GET("/conversations", s.listConversations)
	v1.GET("/conversations/:id", s.getConversation)
	v1.DELETE("/conversations/:id", s.removeConversation)
	v1.GET("/conversations/by-alias/:alias", s.getConversationByAlias)
	v1.GET("/conversations/by-address/:address", s.getConversationByAddress)

	v1.GET("/monitored", s.monitoredAliases)
}
