package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/opticorelab/labsupply_backend/config"
	"bitbucket.org/opticorelab/labsupply_backend/models"
	"bitbucket.org/opticorelab/labsupply_backend/utils"
	"github.com/shopspring/decimal"
)

// newIntegrationContext spins up throwaway redis and mysql containers,
// connects the global config singletons against them, migrates, and returns
// a context carrying a unique business id and a test user.
func newIntegrationContext(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME_2", "labsupply_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetBusinessIdInContext(ctx, fmt.Sprintf("lab-%d", time.Now().UnixNano()))
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	return ctx
}

func newTrue() *bool  { v := true; return &v }
func newFalse() *bool { v := false; return &v }

func createTestSupplier(t *testing.T, ctx context.Context, name string, billing bool) *models.Supplier {
	t.Helper()
	supplier, err := models.CreateSupplier(ctx, &models.NewSupplier{
		Name:      name,
		IsActive:  newTrue(),
		IsBilling: &billing,
	})
	if err != nil {
		t.Fatalf("CreateSupplier %s: %v", name, err)
	}
	return supplier
}

func createTestProduct(t *testing.T, ctx context.Context, name string, kind models.ProductKind) *models.Product {
	t.Helper()
	product, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:     name,
		Kind:     kind,
		IsActive: newTrue(),
		InStock:  newTrue(),
	})
	if err != nil {
		t.Fatalf("CreateProduct %s: %v", name, err)
	}
	return product
}

func createTestRule(t *testing.T, ctx context.Context, productId, supplierId int, maxPrice string) *models.PriceRule {
	t.Helper()
	rule, err := models.CreatePriceRule(ctx, &models.NewPriceRule{
		ProductId:  productId,
		SupplierId: supplierId,
		MaxPrice:   dec(maxPrice),
		IsActive:   newTrue(),
	})
	if err != nil {
		t.Fatalf("CreatePriceRule: %v", err)
	}
	return rule
}

func lensItem(productId, supplierId int, price, sphere, cylinder string) models.NewOrderItem {
	return models.NewOrderItem{
		ProductId:  productId,
		SupplierId: supplierId,
		UnitPrice:  dec(price),
		Sphere:     dec(sphere),
		Cylinder:   dec(cylinder),
	}
}

func creditBalance(t *testing.T, ctx context.Context, supplierId int) decimal.Decimal {
	t.Helper()
	balance, err := models.GetSupplierCreditBalance(ctx, supplierId)
	if err != nil {
		t.Fatalf("GetSupplierCreditBalance: %v", err)
	}
	return balance
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("labsupply-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("labsupply-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=labsupply_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
