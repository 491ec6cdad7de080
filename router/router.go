package router

import (
	"github.com/crypto_custody/draftvault/handler"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// SetupRouter mounts the draft API. allowedOrigins empty allows any origin.
func SetupRouter(draftHandler *handler.DraftHandler, allowedOrigins []string) *gin.Engine {
	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	if len(allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = allowedOrigins
	}
	corsCfg.AddAllowHeaders(handler.ActorHeader)
	r.Use(cors.New(corsCfg))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	api := r.Group("/api/wallets/:walletId", handler.ActorMiddleware())
	{
		api.GET("/drafts", draftHandler.List)
		api.POST("/drafts", draftHandler.Create)
		api.GET("/drafts/:draftId", draftHandler.Get)
		api.PATCH("/drafts/:draftId", draftHandler.Update)
		api.DELETE("/drafts/:draftId", draftHandler.Delete)
		api.POST("/drafts/:draftId/relock", draftHandler.Relock)

		api.GET("/utxos/locks", draftHandler.CheckLocks)
	}

	return r
}
