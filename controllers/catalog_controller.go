package controller

import (
	"github.com/gofiber/fiber/v2"

	"productflow/phase"
	"productflow/utils"
)

// CatalogController serves the phase catalog so clients never hard-code
// phase lists.
type CatalogController struct {
	Catalog *phase.Catalog
}

func NewCatalogController(catalog *phase.Catalog) *CatalogController {
	return &CatalogController{Catalog: catalog}
}

func (cc *CatalogController) GetCatalog(c *fiber.Ctx) error {
	return c.JSON(utils.SuccessResponse(cc.Catalog.Describe()))
}
