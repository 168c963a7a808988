package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/splax/confvault/internal/domain"
	"github.com/splax/confvault/internal/service/variable"
)

func (r *Router) handleEnvironments(w http.ResponseWriter, req *http.Request) {
	if !r.admit(w, req, ruleForMethod(req.Method)) {
		return
	}
	switch req.Method {
	case http.MethodGet:
		envs, err := r.envs.List(req.Context())
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, envs)
	case http.MethodPost:
		actor, ok := r.requireActor(w, req)
		if !ok {
			return
		}
		var payload struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		env, err := r.envs.Create(req.Context(), actor, payload.Name, payload.Description)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, env)
	default:
		r.methodNotAllowed(w)
	}
}

// handleEnvironmentSubroutes serves /environments/{name}[/variables[/{key}]].
func (r *Router) handleEnvironmentSubroutes(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/environments/")
	parts := strings.SplitN(rest, "/", 3)
	name := parts[0]
	if name == "" {
		r.notFound(w)
		return
	}
	if !r.admit(w, req, ruleForMethod(req.Method)) {
		return
	}
	switch {
	case len(parts) == 1:
		r.handleEnvironment(w, req, name)
	case parts[1] != "variables":
		r.notFound(w)
	case len(parts) == 2 || parts[2] == "":
		r.handleVariables(w, req, name)
	default:
		r.handleVariable(w, req, name, parts[2])
	}
}

func (r *Router) handleEnvironment(w http.ResponseWriter, req *http.Request, name string) {
	switch req.Method {
	case http.MethodGet:
		env, err := r.envs.Resolve(req.Context(), name)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, env)
	case http.MethodDelete:
		actor, ok := r.requireActor(w, req)
		if !ok {
			return
		}
		env, err := r.envs.Delete(req.Context(), actor, name)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, env)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleVariables(w http.ResponseWriter, req *http.Request, envName string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	vars, err := r.vars.List(req.Context(), envName)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if vars == nil {
		vars = []domain.Variable{}
	}
	writeJSON(w, http.StatusOK, vars)
}

type setVariableRequest struct {
	Value       *string `json:"value"`
	IsSecret    bool    `json:"is_secret"`
	Tags        string  `json:"tags"`
	Description string  `json:"description"`
}

func (r *Router) handleVariable(w http.ResponseWriter, req *http.Request, envName, key string) {
	switch req.Method {
	case http.MethodGet:
		decrypt, _ := strconv.ParseBool(req.URL.Query().Get("decrypt"))
		get := r.vars.Get
		if decrypt {
			get = r.vars.GetDecrypted
		}
		v, err := get(req.Context(), envName, key)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	case http.MethodPut:
		actor, ok := r.requireActor(w, req)
		if !ok {
			return
		}
		var payload setVariableRequest
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		v, created, err := r.vars.Set(req.Context(), actor, variable.SetInput{
			Environment: envName,
			Key:         key,
			Value:       payload.Value,
			IsSecret:    payload.IsSecret,
			Tags:        payload.Tags,
			Description: payload.Description,
		})
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		status, action := http.StatusOK, domain.ActionUpdate
		if created {
			status, action = http.StatusCreated, domain.ActionCreate
		}
		r.recordVariableMutation(action, v.IsSecret)
		writeJSON(w, status, v)
	case http.MethodDelete:
		actor, ok := r.requireActor(w, req)
		if !ok {
			return
		}
		v, err := r.vars.Delete(req.Context(), actor, envName, key)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		r.recordVariableMutation(domain.ActionDelete, v.IsSecret)
		w.WriteHeader(http.StatusNoContent)
	default:
		r.methodNotAllowed(w)
	}
}
