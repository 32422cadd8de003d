package sqlgen

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/arkwith7/text-to-sql-sub000/internal/schema"
)

// RuleGenerator is the deterministic fallback ("simulation mode"): an ordered
// list of (predicate, template) rules evaluated top to bottom. The first
// matching rule wins, extracted parameters are substituted into its template,
// and no rule ever emits anything but a read-only SELECT.
type RuleGenerator struct {
	// DefaultLimit bounds templates that would otherwise be unbounded.
	DefaultLimit int
	rules        []rule
}

type ruleParams struct {
	Limit int
	Table string
}

type rule struct {
	name       string
	confidence float64
	match      func(q string, snapshot schema.Snapshot) (ruleParams, bool)
	render     func(params ruleParams, snapshot schema.Snapshot) string
}

func NewRuleGenerator(defaultLimit int) *RuleGenerator {
	if defaultLimit <= 0 {
		defaultLimit = 1000
	}
	g := &RuleGenerator{DefaultLimit: defaultLimit}
	g.rules = []rule{
		{
			name:       "top_products_by_quantity",
			confidence: 0.8,
			match: func(q string, _ schema.Snapshot) (ruleParams, bool) {
				if !mentionsProduct(q) {
					return ruleParams{}, false
				}
				if !containsAny(q, "top", "best", "most sold", "많이 팔린", "인기", "상위") {
					return ruleParams{}, false
				}
				return ruleParams{Limit: extractNumber(q, 10)}, true
			},
			render: func(params ruleParams, snapshot schema.Snapshot) string {
				products := tableNamed(snapshot, "products")
				orderDetails := tableNamed(snapshot, "order_details", "order_items")
				return fmt.Sprintf(
					"SELECT p.product_name, SUM(od.quantity) AS total_quantity\n"+
						"FROM %s p\nJOIN %s od ON od.product_id = p.product_id\n"+
						"GROUP BY p.product_name\nORDER BY total_quantity DESC\nLIMIT %d",
					products, orderDetails, params.Limit)
			},
		},
		{
			name:       "product_count_by_category",
			confidence: 0.85,
			match: func(q string, _ schema.Snapshot) (ruleParams, bool) {
				if !containsAny(q, "category", "카테고리", "분류") {
					return ruleParams{}, false
				}
				if !mentionsProduct(q) {
					return ruleParams{}, false
				}
				if !containsAny(q, "count", "number", "how many", "per", "수", "개수", "별") {
					return ruleParams{}, false
				}
				return ruleParams{}, true
			},
			render: func(_ ruleParams, snapshot schema.Snapshot) string {
				categories := tableNamed(snapshot, "categories")
				products := tableNamed(snapshot, "products")
				return fmt.Sprintf(
					"SELECT c.category_name, COUNT(p.product_id) AS product_count\n"+
						"FROM %s c\nLEFT JOIN %s p ON p.category_id = c.category_id\n"+
						"GROUP BY c.category_name\nORDER BY c.category_name",
					categories, products)
			},
		},
		{
			name:       "average_price_by_category",
			confidence: 0.75,
			match: func(q string, _ schema.Snapshot) (ruleParams, bool) {
				if !containsAny(q, "average", "avg", "평균") {
					return ruleParams{}, false
				}
				if !containsAny(q, "price", "가격", "단가") {
					return ruleParams{}, false
				}
				return ruleParams{}, true
			},
			render: func(_ ruleParams, snapshot schema.Snapshot) string {
				categories := tableNamed(snapshot, "categories")
				products := tableNamed(snapshot, "products")
				return fmt.Sprintf(
					"SELECT c.category_name, AVG(p.unit_price) AS average_price\n"+
						"FROM %s c\nJOIN %s p ON p.category_id = c.category_id\n"+
						"GROUP BY c.category_name\nORDER BY average_price DESC",
					categories, products)
			},
		},
		{
			name:       "customer_count_by_country",
			confidence: 0.8,
			match: func(q string, _ schema.Snapshot) (ruleParams, bool) {
				if !containsAny(q, "country", "국가", "나라") {
					return ruleParams{}, false
				}
				if !containsAny(q, "customer", "client", "고객", "거래처") {
					return ruleParams{}, false
				}
				return ruleParams{}, true
			},
			render: func(_ ruleParams, snapshot schema.Snapshot) string {
				customers := tableNamed(snapshot, "customers")
				return fmt.Sprintf(
					"SELECT country, COUNT(*) AS customer_count\nFROM %s\n"+
						"GROUP BY country\nORDER BY customer_count DESC",
					customers)
			},
		},
		{
			name:       "total_revenue",
			confidence: 0.7,
			match: func(q string, _ schema.Snapshot) (ruleParams, bool) {
				if !containsAny(q, "revenue", "total sales", "sales total", "매출", "판매액") {
					return ruleParams{}, false
				}
				return ruleParams{}, true
			},
			render: func(_ ruleParams, snapshot schema.Snapshot) string {
				orderDetails := tableNamed(snapshot, "order_details", "order_items")
				return fmt.Sprintf(
					"SELECT SUM(unit_price * quantity) AS total_revenue\nFROM %s",
					orderDetails)
			},
		},
		{
			name:       "row_count_of_table",
			confidence: 0.6,
			match: func(q string, snapshot schema.Snapshot) (ruleParams, bool) {
				if !containsAny(q, "how many", "count", "total number", "몇", "개수", "수") {
					return ruleParams{}, false
				}
				table, ok := mentionedTable(q, snapshot)
				if !ok {
					return ruleParams{}, false
				}
				return ruleParams{Table: table}, true
			},
			render: func(params ruleParams, _ schema.Snapshot) string {
				return fmt.Sprintf("SELECT COUNT(*) AS row_count\nFROM %s", params.Table)
			},
		},
		{
			name:       "list_table",
			confidence: 0.5,
			match: func(q string, snapshot schema.Snapshot) (ruleParams, bool) {
				if !containsAny(q, "show", "list", "display", "보여", "목록", "조회") {
					return ruleParams{}, false
				}
				table, ok := mentionedTable(q, snapshot)
				if !ok {
					return ruleParams{}, false
				}
				return ruleParams{Table: table, Limit: extractNumber(q, g.DefaultLimit)}, true
			},
			render: func(params ruleParams, _ schema.Snapshot) string {
				return fmt.Sprintf("SELECT *\nFROM %s\nLIMIT %d", params.Table, params.Limit)
			},
		},
	}
	return g
}

func (g *RuleGenerator) Generate(_ context.Context, question string, snapshot schema.Snapshot) (Generation, error) {
	normalized := normalizeQuestion(question)
	if normalized == "" {
		return Generation{}, ErrNoMatch
	}

	for _, candidate := range g.rules {
		params, ok := candidate.match(normalized, snapshot)
		if !ok {
			continue
		}
		return Generation{
			SQL:        candidate.render(params, snapshot),
			Confidence: candidate.confidence,
			Strategy:   "rules:" + candidate.name,
		}, nil
	}
	return Generation{}, ErrNoMatch
}

func normalizeQuestion(question string) string {
	return strings.ToLower(strings.Join(strings.Fields(question), " "))
}

func containsAny(q string, keywords ...string) bool {
	for _, keyword := range keywords {
		if strings.Contains(q, keyword) {
			return true
		}
	}
	return false
}

func mentionsProduct(q string) bool {
	return containsAny(q, "product", "item", "제품", "상품")
}

var numberPattern = regexp.MustCompile(`\b(\d{1,4})\b`)

func extractNumber(q string, fallback int) int {
	match := numberPattern.FindStringSubmatch(q)
	if match == nil {
		return fallback
	}
	value, err := strconv.Atoi(match[1])
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

// tableNamed prefers the snapshot's actual table name and falls back to the
// first candidate so templates stay deterministic on sparse snapshots.
func tableNamed(snapshot schema.Snapshot, candidates ...string) string {
	for _, table := range snapshot.Tables {
		lower := strings.ToLower(table.Name)
		for _, candidate := range candidates {
			if lower == candidate {
				return table.Name
			}
		}
	}
	return candidates[0]
}

// mentionedTable finds a snapshot table referenced by the question, matching
// singular and plural forms.
func mentionedTable(q string, snapshot schema.Snapshot) (string, bool) {
	for _, table := range snapshot.Tables {
		lower := strings.ToLower(table.Name)
		if strings.Contains(q, lower) || strings.Contains(q, strings.TrimSuffix(lower, "s")) {
			return table.Name, true
		}
	}
	return "", false
}
