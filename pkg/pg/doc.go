// Package pg connects to the PostgreSQL database that stores the admin audit
// trail and applies its goose migrations.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	if err := pg.MigrateFS(ctx, pool, audit.Migrations, audit.MigrationsDir, cfg, log); err != nil {
//	    return err
//	}
//
// Healthcheck returns a probe for readiness endpoints. IsNotFoundError and
// IsDuplicateKeyError classify pgx errors.
package pg
