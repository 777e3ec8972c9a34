package website

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opencompanion/companion/src/apiurl"
	"github.com/opencompanion/companion/src/charcard"
	"github.com/opencompanion/companion/src/config"
)

func NewWebsiteRoutes(conn *pgxpool.Pool) http.Handler {
	codec := charcard.New(charcard.Options{
		VerifyChecksums: config.Config.Cards.VerifyChecksums,
	})

	router := &Router{}
	routes := RouteBuilder{
		Router: router,
		Middlewares: []Middleware{
			func(h Handler) Handler {
				return func(c *RequestContext) ResponseData {
					c.Conn = conn
					c.Codec = codec
					return h(c)
				}
			},
			requestContextMiddleware,
			trackRequestPerf,
			logContextErrorsMiddleware,
			panicCatcherMiddleware,
		},
	}

	routes.GET(apiurl.RegexHealth, Health)

	routes.POST(apiurl.RegexCardInspect, CardInspect)
	routes.POST(apiurl.RegexCardEmbed, CardEmbed)

	routes.POST(apiurl.RegexCharacterImport, CharacterImport)
	routes.POST(apiurl.RegexCharacters, CharacterCreate)
	routes.GET(apiurl.RegexCharacters, CharacterList)
	routes.GET(apiurl.RegexCharacter, CharacterGet)
	routes.GET(apiurl.RegexCharacterCard, CharacterCard)

	routes.MethodNotAllowed(MethodNotAllowed)
	routes.AnyMethod(apiurl.RegexCatchAll, FourOhFour)

	return router
}

func Health(c *RequestContext) ResponseData {
	var res ResponseData
	res.WriteJson(map[string]string{"status": "ok"}, c.Perf)
	return res
}
