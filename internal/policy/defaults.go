package policy

// ロール名。
const (
	RoleAdmin      = "ADMIN"
	RoleInstructor = "INSTRUTOR"
	RoleManager    = "GERENTE"
	RoleStudent    = "ALUNO"
)

// roleGatedMethods はロール制限の対象となる更新系メソッド。
var roleGatedMethods = []string{"POST", "PUT", "PATCH", "DELETE"}

// DefaultRules は既定のルートテーブルを返す。
// 呼び出しごとに新しいスライスを返すため、呼び出し側で変更してよい。
func DefaultRules() Rules {
	return Rules{
		PublicPatterns: []string{
			`^/favicon\.ico$`,
			`^/openapi\.json$`,
			`/docs($|/)`,
			`swagger-ui`,
			`favicon-.*\.png$`,
		},
		PublicRoutes: []string{
			"GET /",
			"GET /health",
			"GET /metrics",
			"POST /auth/v1/login",
			"POST /auth/v1/register",
			"POST /users/v1/register",
			"POST /users/v1/reset-password",
			"POST /auth/v1/reset-password",
			"GET /users/v1/departamentos",
			"GET /users/v1/cargos",
		},
		RefreshRoutes: []string{
			"POST /auth/v1/refresh",
		},
		Tiers: []Tier{
			{
				Name:     "admin",
				Roles:    []string{RoleAdmin},
				Required: "ADMIN",
				Message:  "Esta operação requer privilégios de administrador",
				Methods:  append([]string(nil), roleGatedMethods...),
				Patterns: []string{
					"/users/v1/funcionarios/*/role",
					"/courses/v1/categorias",
					"/courses/v1/*/active",
					"/gamification/v1/badges",
					"/notifications/v1/templates",
					"/notifications/v1/filas",
					"/notifications/v1/notificacoes",
				},
			},
			{
				Name:     "instructor",
				Roles:    []string{RoleInstructor, RoleAdmin},
				Required: "INSTRUTOR ou ADMIN",
				Message:  "Esta operação requer privilégios de instrutor ou administrador",
				Methods:  append([]string(nil), roleGatedMethods...),
				Patterns: []string{
					"/courses/v1",
					"/courses/v1/*/duplicar",
					"/courses/v1/*/modulos",
					"/courses/v1/modulos/*/materiais",
					"/assessments/v1",
					"/assessments/v1/*/questions",
					"/assessments/v1/questions/*/alternatives",
					"/assessments/v1/attempts/*/dissertative",
					"/assessments/v1/attempts/*/review",
				},
			},
			{
				Name:     "manager",
				Roles:    []string{RoleManager, RoleAdmin},
				Required: "GERENTE ou ADMIN",
				Message:  "Esta operação requer privilégios de gerente ou administrador",
				Methods:  append([]string(nil), roleGatedMethods...),
				Patterns: []string{
					"/users/v1/funcionarios/departamento",
					"/courses/v1/categorias",
					"/users/v1/funcionarios/*/role",
					"/reports/departamento",
				},
			},
		},
	}
}
