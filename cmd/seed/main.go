package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"campaignengine/internal/config"
	"campaignengine/internal/logger"
	"campaignengine/internal/models"
	"campaignengine/internal/repository"
	"campaignengine/internal/segment"
)

// Command-line flags
var (
	customersCount = flag.Int("customers", 50, "Number of customers to create")
	randomSeed     = flag.Int64("seed", 42, "Random seed for generated customers")
	clearData      = flag.Bool("clear", false, "Delete all campaigns, segments and customers first")
)

var (
	firstNames = []string{"Asha", "Brian", "Chen", "Divya", "Emeka", "Fatima", "Gabriel", "Hana", "Ivan", "Juma", "Kavya", "Liam"}
	lastNames  = []string{"Kumar", "Otieno", "Silva", "Nakamura", "Okafor", "Rossi", "Mensah", "Patel"}
	tagPool    = []string{"vip", "new", "newsletter", "lapsed", "mobile"}
)

func main() {
	flag.Parse()

	// Load .env file (ignore error if not present)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	db, err := repository.Open(ctx, cfg.GetDatabaseDSN())
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if *clearData {
		if _, err := db.ExecContext(ctx, `TRUNCATE communication_logs, campaigns, segments, customers RESTART IDENTITY`); err != nil {
			log.Fatal("Failed to clear data", zap.Error(err))
		}
		log.Info("Cleared existing data")
	}

	customerRepo := repository.NewCustomerRepository(db)
	segmentRepo := repository.NewSegmentRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)

	rng := rand.New(rand.NewSource(*randomSeed))
	customers := make([]*models.Customer, 0, *customersCount)
	for i := 0; i < *customersCount; i++ {
		c := fakeCustomer(rng, i)
		if err := customerRepo.Create(ctx, c); err != nil {
			log.Fatal("Failed to seed customer", zap.Int("index", i), zap.Error(err))
		}
		customers = append(customers, c)
	}
	log.Info("Seeded customers", zap.Int("count", len(customers)))

	segments := []*models.Segment{
		{
			Name:        "High value",
			Description: "Spent more than 5000",
			Rules:       []models.Rule{{Field: "totalSpent", Operator: models.OperatorGreaterThan, Value: 5000}},
			Logic:       models.LogicAll,
		},
		{
			Name:        "VIP or regulars",
			Description: "VIP tag or more than ten visits",
			Rules: []models.Rule{
				{Field: "tags", Operator: models.OperatorContains, Value: "vip"},
				{Field: "visitCount", Operator: models.OperatorGreaterThan, Value: 10},
			},
			Logic: models.LogicAny,
		},
	}
	for _, s := range segments {
		if err := segmentRepo.Create(ctx, s); err != nil {
			log.Fatal("Failed to seed segment", zap.String("name", s.Name), zap.Error(err))
		}
	}
	log.Info("Seeded segments", zap.Int("count", len(segments)))

	later := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Minute)
	campaigns := []*models.Campaign{
		{
			Name:      "Thank you, big spenders",
			SegmentID: segments[0].ID,
			Message:   "Hi {first_name}, thanks for spending {total_spent} with us!",
			Status:    models.CampaignStatusDraft,
		},
		{
			Name:         "VIP weekend preview",
			SegmentID:    segments[1].ID,
			Message:      "Hello {name}, after {visit_count} visits you get early access this weekend.",
			Status:       models.CampaignStatusScheduled,
			ScheduledFor: &later,
		},
	}
	for i, c := range campaigns {
		audience := segment.Match(customers, segments[i].Rules, segments[i].Logic)
		ids := make([]int, len(audience))
		for j, a := range audience {
			ids[j] = a.ID
		}
		if err := campaignRepo.CreateWithAudience(ctx, c, ids); err != nil {
			log.Fatal("Failed to seed campaign", zap.String("name", c.Name), zap.Error(err))
		}
		log.Info("Seeded campaign",
			zap.Int("campaign_id", c.ID),
			zap.String("status", string(c.Status)),
			zap.Int("audience", len(ids)))
	}

	fmt.Fprintln(os.Stdout, "Seeding completed successfully")
}

func fakeCustomer(rng *rand.Rand, i int) *models.Customer {
	first := firstNames[rng.Intn(len(firstNames))]
	last := lastNames[rng.Intn(len(lastNames))]
	c := &models.Customer{
		Name:       first + " " + last,
		TotalSpent: float64(rng.Intn(1000000)) / 100,
		VisitCount: rng.Intn(25),
	}

	// Leave some customers with a single channel or none
	if rng.Intn(5) > 0 {
		email := fmt.Sprintf("%s.%s%d@example.com", strings.ToLower(first), strings.ToLower(last), i)
		c.Email = &email
	}
	if rng.Intn(4) > 0 {
		phone := fmt.Sprintf("98%08d", rng.Intn(100000000))
		c.Phone = &phone
	}

	if c.VisitCount > 0 {
		visit := time.Now().Add(-time.Duration(rng.Intn(90*24)) * time.Hour).UTC()
		c.LastVisit = &visit
	}

	for _, tag := range tagPool {
		if rng.Intn(4) == 0 {
			c.Tags = append(c.Tags, tag)
		}
	}
	return c
}
