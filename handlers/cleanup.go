package handlers

import (
	"net/http"

	"github.com/reststorage/reststorage"
	"github.com/reststorage/reststorage/internal/dcontext"
	"github.com/reststorage/reststorage/internal/requestutil"
)

const queryCleanupAmount = "cleanupResourcesAmount"

func cleanupDispatcher(ctx *Context, r *http.Request) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		amount, err := requestutil.QueryInt(r, queryCleanupAmount, ctx.Config.Cleanup.ResourcesAmount)
		if err != nil {
			serveError(ctx, w, reststorage.BadRequestError{Param: queryCleanupAmount, Value: r.URL.Query().Get(queryCleanupAmount)})
			return
		}

		result, err := ctx.storage.Cleanup(ctx, amount)
		if err != nil {
			serveError(ctx, w, err)
			return
		}

		dcontext.GetLogger(ctx).Infof("cleanup removed %d expired resources, %d left", result.CleanedResources, result.ExpiredResources)
		if err := serveJSON(w, result); err != nil {
			dcontext.GetLogger(ctx).WithError(err).Warn("unable to write cleanup result")
		}
	})
}
