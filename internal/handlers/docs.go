package handlers

import (
	"net/http"

	"github.com/goccy/go-json"
)

type object = map[string]interface{}

func jsonBody(description string, schema interface{}) object {
	return object{
		"description": description,
		"content": object{
			"application/json": object{"schema": schema},
		},
	}
}

func ref(name string) object {
	return object{"$ref": "#/components/schemas/" + name}
}

func pathParam(name, description string) object {
	return object{
		"name":        name,
		"in":          "path",
		"description": description,
		"required":    true,
		"schema":      object{"type": "string"},
	}
}

var (
	sessionIDParam = pathParam("id", "Dashboard session ID")
	notFound       = jsonBody("Unknown or expired session", ref("Error"))
	nullableNumber = object{"type": "number", "nullable": true, "description": "Rounded to 2 decimals, null when unavailable"}
)

// OpenAPISpec returns the OpenAPI 3.0 specification for the Marscast API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	spec := object{
		"openapi": "3.0.0",
		"info": object{
			"title":       "Marscast API",
			"description": "Cascading filter and aggregation engine over Mars rover weather observations",
			"version":     "1.0.0",
		},
		"servers": []object{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": object{
			"/api/dataset": object{
				"get": object{
					"summary":   "Dataset summary",
					"responses": object{"200": jsonBody("Row count, extents and filter domains", ref("Dataset"))},
				},
			},
			"/api/sessions": object{
				"post": object{
					"summary":     "Open a dashboard session",
					"description": "Creates a session at the initial state: every criterion ALL, date range at the global extent",
					"responses": object{
						"201": jsonBody("Initial snapshot", ref("Snapshot")),
						"429": jsonBody("Session limit reached", ref("Error")),
					},
				},
			},
			"/api/sessions/{id}": object{
				"parameters": []object{sessionIDParam},
				"get": object{
					"summary":   "Current snapshot",
					"responses": object{"200": jsonBody("Snapshot", ref("Snapshot")), "404": notFound},
				},
				"delete": object{
					"summary":   "Close a session",
					"responses": object{"204": object{"description": "Closed"}, "404": notFound},
				},
			},
			"/api/sessions/{id}/filters/{criterion}": object{
				"parameters": []object{
					sessionIDParam,
					{
						"name":     "criterion",
						"in":       "path",
						"required": true,
						"schema":   object{"type": "string", "enum": []string{"month", "season", "date_range", "recency"}},
					},
				},
				"put": object{
					"summary":     "Set a filter",
					"description": "Applies the value, re-derives every choice set and resets values that fell out of their set",
					"requestBody": object{
						"required": true,
						"content":  object{"application/json": object{"schema": ref("FilterRequest")}},
					},
					"responses": object{
						"200": jsonBody("Snapshot after the reaction", ref("Snapshot")),
						"400": jsonBody("Value outside the criterion's domain", ref("Error")),
						"404": notFound,
					},
				},
			},
			"/api/sessions/{id}/reset": object{
				"parameters": []object{sessionIDParam},
				"post": object{
					"summary":   "Reset every filter",
					"responses": object{"200": jsonBody("Snapshot", ref("Snapshot")), "404": notFound},
				},
			},
			"/api/sessions/{id}/rows": object{
				"parameters": []object{sessionIDParam},
				"get": object{
					"summary": "Filtered observations",
					"parameters": []object{
						{"name": "page", "in": "query", "schema": object{"type": "integer", "default": 1}},
						{"name": "limit", "in": "query", "schema": object{"type": "integer", "default": defaultPageLimit, "maximum": maxPageLimit}},
					},
					"responses": object{"200": jsonBody("Page of rows", ref("RowPage")), "404": notFound},
				},
			},
			"/api/sessions/{id}/choices": object{
				"parameters": []object{sessionIDParam},
				"get": object{
					"summary":   "Offered choices per cascading criterion",
					"responses": object{"200": jsonBody("Choice sets", ref("Choices")), "404": notFound},
				},
			},
			"/api/sessions/{id}/aggregates": object{
				"parameters": []object{sessionIDParam},
				"get": object{
					"summary":   "KPI scalars",
					"responses": object{"200": jsonBody("Summary", ref("Summary")), "404": notFound},
				},
			},
			"/api/sessions/{id}/timeseries": object{
				"parameters": []object{sessionIDParam},
				"get": object{
					"summary":   "Daily resampled series",
					"responses": object{"200": jsonBody("One point per calendar day", object{"type": "array", "items": ref("Point")}), "404": notFound},
				},
			},
			"/api/sessions/{id}/histograms/{column}": object{
				"parameters": []object{
					sessionIDParam,
					{
						"name":     "column",
						"in":       "path",
						"required": true,
						"schema":   object{"type": "string", "enum": []string{"sol", "ls", "min_temp", "max_temp", "pressure"}},
					},
				},
				"get": object{
					"summary":    "Distribution of one column",
					"parameters": []object{{"name": "bins", "in": "query", "schema": object{"type": "integer", "default": 20, "maximum": maxHistogramBins}}},
					"responses":  object{"200": jsonBody("Equal-width histogram", ref("Histogram")), "400": jsonBody("Unknown column", ref("Error")), "404": notFound},
				},
			},
			"/api/sessions/{id}/ws": object{
				"parameters": []object{sessionIDParam},
				"get": object{
					"summary":     "Snapshot stream",
					"description": "Websocket upgrade. Sends the current snapshot, then one message per reaction",
					"responses":   object{"101": object{"description": "Switching protocols"}, "404": notFound},
				},
			},
			"/health": object{
				"get": object{
					"summary":   "Health check",
					"responses": object{"200": jsonBody("API is healthy", object{"type": "object", "properties": object{"status": object{"type": "string"}}})},
				},
			},
			"/metrics": object{
				"get": object{
					"summary": "Prometheus metrics",
					"responses": object{
						"200": object{
							"description": "Prometheus metrics in text format",
							"content":     object{"text/plain": object{"schema": object{"type": "string"}}},
						},
					},
				},
			},
		},
		"components": object{
			"schemas": object{
				"Error": object{
					"type": "object",
					"properties": object{
						"error":   object{"type": "string"},
						"message": object{"type": "string"},
						"code":    object{"type": "integer"},
					},
				},
				"FilterRequest": object{
					"type": "object",
					"properties": object{
						"value": object{"type": "string", "description": "month, season or recency value; ALL clears the criterion"},
						"start": object{"type": "string", "format": "date"},
						"end":   object{"type": "string", "format": "date"},
					},
				},
				"Observation": object{
					"type": "object",
					"properties": object{
						"sol":              object{"type": "integer"},
						"terrestrial_date": object{"type": "string", "format": "date"},
						"ls":               object{"type": "number"},
						"month":            object{"type": "integer"},
						"min_temp":         nullableNumber,
						"max_temp":         nullableNumber,
						"pressure":         nullableNumber,
					},
				},
				"RowPage": object{
					"type": "object",
					"properties": object{
						"data":        object{"type": "array", "items": ref("Observation")},
						"total":       object{"type": "integer"},
						"page":        object{"type": "integer"},
						"limit":       object{"type": "integer"},
						"total_pages": object{"type": "integer"},
					},
				},
				"Summary": object{
					"type": "object",
					"properties": object{
						"count":         object{"type": "integer"},
						"latest_sol":    nullableNumber,
						"mean_min_temp": nullableNumber,
						"mean_max_temp": nullableNumber,
						"mean_pressure": nullableNumber,
						"std_pressure":  nullableNumber,
					},
				},
				"Point": object{
					"type": "object",
					"properties": object{
						"date":         object{"type": "string", "format": "date"},
						"observations": object{"type": "integer"},
						"min_temp":     nullableNumber,
						"max_temp":     nullableNumber,
						"pressure":     nullableNumber,
					},
				},
				"ChoiceSet": object{
					"type": "object",
					"properties": object{
						"criterion": object{"type": "string"},
						"choices": object{
							"type": "array",
							"items": object{
								"type":       "object",
								"properties": object{"value": object{"type": "string"}, "label": object{"type": "string"}},
							},
						},
					},
				},
				"Choices": object{
					"type": "object",
					"properties": object{
						"month":   ref("ChoiceSet"),
						"season":  ref("ChoiceSet"),
						"recency": ref("ChoiceSet"),
					},
				},
				"Snapshot": object{
					"type": "object",
					"properties": object{
						"session_id": object{"type": "string"},
						"state": object{
							"type": "object",
							"properties": object{
								"month":   object{"type": "string"},
								"season":  object{"type": "string"},
								"recency": object{"type": "string"},
								"date_range": object{
									"type":       "object",
									"properties": object{"start": object{"type": "string"}, "end": object{"type": "string"}},
								},
							},
						},
						"choices":    ref("Choices"),
						"summary":    ref("Summary"),
						"resets":     object{"type": "array", "items": object{"type": "string"}},
						"updated_at": object{"type": "string", "format": "date-time"},
					},
				},
				"Histogram": object{
					"type": "object",
					"properties": object{
						"column":  object{"type": "string"},
						"missing": object{"type": "integer"},
						"bins": object{
							"type": "array",
							"items": object{
								"type":       "object",
								"properties": object{"lo": object{"type": "number"}, "hi": object{"type": "number"}, "count": object{"type": "integer"}},
							},
						},
					},
				},
				"Dataset": object{
					"type": "object",
					"properties": object{
						"rows":    object{"type": "integer"},
						"start":   object{"type": "string", "format": "date-time"},
						"end":     object{"type": "string", "format": "date-time"},
						"min_sol": object{"type": "integer"},
						"max_sol": object{"type": "integer"},
						"seasons": object{"type": "array", "items": object{"type": "object"}},
						"recency": object{"type": "array", "items": object{"type": "object"}},
						"columns": object{"type": "array", "items": object{"type": "string"}},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(spec)
}
